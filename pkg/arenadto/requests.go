package arenadto

type Point struct {
	X int `json:"x" validate:"min=0,max=18"`
	Y int `json:"y" validate:"min=0,max=18"`
}

// Rules is the client-editable rule configuration. Zero values take the
// variant defaults.
type Rules struct {
	Variant          string   `json:"variant" validate:"required,max=32"`
	BoardSize        int      `json:"board_size,omitempty" validate:"omitempty,oneof=9 13 15 19"`
	BaseSeconds      int      `json:"base_seconds,omitempty" validate:"min=0,max=10800"`
	IncrementSeconds int      `json:"increment_seconds,omitempty" validate:"min=0,max=600"`
	ByoyomiSeconds   int      `json:"byoyomi_seconds,omitempty" validate:"min=0,max=600"`
	ByoyomiPeriods   int      `json:"byoyomi_periods,omitempty" validate:"min=0,max=10"`
	Komi             float64  `json:"komi,omitempty" validate:"min=-150,max=150"`
	CaptureTarget    int      `json:"capture_target,omitempty" validate:"min=0,max=200"`
	BaseStones       int      `json:"base_stones,omitempty" validate:"min=0,max=20"`
	HiddenStones     int      `json:"hidden_stones,omitempty" validate:"min=0,max=10"`
	ScanAllowance    int      `json:"scan_allowance,omitempty" validate:"min=0,max=10"`
	MissileCount     int      `json:"missile_count,omitempty" validate:"min=0,max=10"`
	MixedRules       []string `json:"mixed_rules,omitempty" validate:"max=4"`
	TurnLimit        int      `json:"turn_limit,omitempty" validate:"min=0,max=1000"`
	TokenCount       int      `json:"token_count,omitempty" validate:"min=0,max=10"`
	CurlingEnds      int      `json:"curling_ends,omitempty" validate:"min=0,max=10"`
	CurlingStones    int      `json:"curling_stones,omitempty" validate:"min=0,max=8"`
	Ranked           bool     `json:"ranked,omitempty"`
}

type CreateAISessionRequest struct {
	Rules  Rules  `json:"rules"`
	Engine string `json:"engine" validate:"required,max=32"`
	Level  int    `json:"level" validate:"min=0,max=10"`
	// AIFirst seats the engine in seat A.
	AIFirst bool `json:"ai_first,omitempty"`
}

// ActionRequest is one player input, shared by HTTP and the WebSocket.
type ActionRequest struct {
	Kind      string  `json:"kind" validate:"required,max=24"`
	X         int     `json:"x" validate:"min=0,max=18"`
	Y         int     `json:"y" validate:"min=0,max=18"`
	ToX       int     `json:"to_x,omitempty" validate:"min=0,max=18"`
	ToY       int     `json:"to_y,omitempty" validate:"min=0,max=18"`
	Points    []Point `json:"points,omitempty" validate:"max=361,dive"`
	Direction string  `json:"direction,omitempty" validate:"omitempty,oneof=up down left right"`
	Value     int     `json:"value,omitempty"`
}

type EnqueueRequest struct {
	Variant   string `json:"variant" validate:"required,max=32"`
	BoardSize int    `json:"board_size" validate:"required,oneof=9 13 15 19"`
}

type CreateNegotiationRequest struct {
	Receiver string `json:"receiver" validate:"required,max=64"`
	Proposal Rules  `json:"proposal"`
}

type ModifyNegotiationRequest struct {
	Proposal Rules `json:"proposal"`
}
