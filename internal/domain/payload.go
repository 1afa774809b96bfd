package domain

type AttentionPayload struct {
	EvaluationID  string  `json:"evaluationId"`
	TargetLetter  string  `json:"targetLetter"`
	Rows          int     `json:"rows"`
	Cols          int     `json:"cols"`
	TotalTargets  int     `json:"totalTargets"`
	CorrectClicks int     `json:"correctClicks"`
	Errors        int     `json:"errors"`
	TimedOut      bool    `json:"timedOut"`
	ElapsedMs     int64   `json:"elapsedMs"`
	MeanLatencyMs float64 `json:"meanLatencyMs"`
}

type RecallPayload struct {
	EvaluationID   string   `json:"evaluationId"`
	Phase          string   `json:"phase"`
	Words          []string `json:"words"`
	Correct        int      `json:"correct"`
	Intrusions     int      `json:"intrusions"`
	Perseverations int      `json:"perseverations"`
	ElapsedMs      int64    `json:"elapsedMs"`
}

type ExecutivePayload struct {
	EvaluationID string `json:"evaluationId"`
	NodeCount    int    `json:"nodeCount"`
	PartATimeMs  int64  `json:"partATimeMs"`
	PartAErrors  int    `json:"partAErrors"`
	PartBTimeMs  int64  `json:"partBTimeMs"`
	PartBErrors  int    `json:"partBErrors"`
}

type DrawingPayload struct {
	EvaluationID  string   `json:"evaluationId"`
	Task          string   `json:"task"`
	Strokes       []Stroke `json:"strokes"`
	OperatorScore int      `json:"operatorScore"`
	MaxScore      int      `json:"maxScore"`
	ElapsedMs     int64    `json:"elapsedMs"`
}

type FluencyPayload struct {
	EvaluationID string `json:"evaluationId"`
	Category     string `json:"category"`
	DurationMs   int64  `json:"durationMs"`
	AudioBytes   int    `json:"audioBytes"`
	MimeType     string `json:"mimeType"`
}
