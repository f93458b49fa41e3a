// arenacheck starts a short AI game against a running arena and prints
// what the HTTP API and the session socket report.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/park285/goban-arena/internal/adapter/arenapresenter"
	"github.com/park285/goban-arena/internal/arenaclient"
	"github.com/park285/goban-arena/pkg/arenadto"
)

func main() {
	baseURL := os.Getenv("ARENA_BASE_URL")
	wsURL := os.Getenv("ARENA_WS_URL")
	userID := os.Getenv("ARENA_USER")
	engine := os.Getenv("ARENA_ENGINE")

	if baseURL == "" {
		log.Fatal("ARENA_BASE_URL is required")
	}
	if userID == "" {
		userID = "arenacheck"
	}
	if engine == "" {
		engine = "random"
	}
	size := 9
	if v := strings.TrimSpace(os.Getenv("ARENA_BOARD_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			size = n
		}
	}

	headers := func() map[string]string {
		return map[string]string{"X-User-Id": userID}
	}
	client := arenaclient.NewClient(baseURL,
		arenaclient.WithHeaderProvider(headers),
		arenaclient.WithTimeout(8*time.Second),
	)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	id, err := client.CreateAISession(ctx, arenadto.CreateAISessionRequest{
		Rules:  arenadto.Rules{Variant: "classic", BoardSize: size},
		Engine: engine,
		Level:  1,
	})
	if err != nil {
		log.Fatalf("create session error: %v", err)
	}
	log.Printf("session %s created", id)

	if r, err := client.Rating(ctx, userID, ""); err == nil {
		log.Printf("rating %s: %.0f (%d games)", r.Mode, r.Rating, r.Games)
	}

	if wsURL == "" {
		snap, err := client.Session(ctx, id)
		if err != nil {
			log.Fatalf("session error: %v", err)
		}
		fmt.Println(arenapresenter.Summary(snap))
		fmt.Print(arenapresenter.Board(snap))
		return
	}

	ws := arenaclient.NewSocket(strings.TrimRight(wsURL, "/")+"/ws/sessions/"+id, 3)
	ws.SetHeaderProvider(headers)
	ws.OnStateChange(func(state arenaclient.SocketState) {
		log.Printf("WS state: %s", state)
	})
	ws.OnFrame(func(f *arenaclient.Frame) {
		switch {
		case f.Error != nil:
			fmt.Println(arenapresenter.Error(f.Error))
		case f.Session != nil:
			fmt.Println(arenapresenter.Summary(f.Session))
			fmt.Print(arenapresenter.Board(f.Session))
		}
	})

	cctx, ccancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer ccancel()
	if err := ws.Connect(cctx); err != nil {
		log.Printf("WS connect error: %v", err)
		return
	}

	// 관전만 하다가 기권으로 정리
	t := time.NewTimer(10 * time.Second)
	<-t.C
	sctx, scancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer scancel()
	if err := ws.Send(sctx, arenadto.ClientFrame{Type: "resign"}); err != nil {
		log.Printf("resign error: %v", err)
	}
	time.Sleep(time.Second)

	_ = ws.Close(context.Background())
}
