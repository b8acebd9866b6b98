package gamedto

type JoinRequest struct {
	ID string `json:"id"`
}

type MoveRequest struct {
	FEN          string `json:"fen"`
	Player       string `json:"player"`
	Move         string `json:"move"`
	ThinkingTime *int   `json:"thinking_time"`
}

type ChatRequest struct {
	Message string `json:"message"`
}

type EndRequest struct {
	LosingPlayer string `json:"losing_player"`
}

type GetRequest struct {
	ID string `json:"id"`
}

type HistoryRequest struct {
	BeforeID int64 `json:"before_id"`
	PageSize int   `json:"page_size"`
}
