package toml

const currentSchemaVersion = 1

type fileSchema struct {
	Version   int                      `toml:"version"`
	Sink      sinkSchema               `toml:"sink"`
	Attention attentionSchema          `toml:"attention"`
	Executive executiveSchema          `toml:"executive"`
	Drawing   drawingSchema            `toml:"drawing"`
	Fluency   fluencySchema            `toml:"fluency"`
	Recall    recallSchema             `toml:"recall"`
	Subtests  map[string]subtestSchema `toml:"subtests,omitempty"`
}

type sinkSchema struct {
	BaseURL  string `toml:"base_url"`
	Timeout  string `toml:"timeout"`
	TokenRef string `toml:"token_ref"`
}

type attentionSchema struct {
	Rows int `toml:"rows"`
	Cols int `toml:"cols"`
}

type executiveSchema struct {
	NodeCount  int    `toml:"node_count"`
	ErrorDelay string `toml:"error_delay"`
}

type drawingSchema struct {
	MaxScore int `toml:"max_score"`
}

type fluencySchema struct {
	Category string `toml:"category"`
}

type recallSchema struct {
	Reference []string `toml:"reference"`
}

type subtestSchema struct {
	Duration string `toml:"duration,omitempty"`
	Policy   string `toml:"policy,omitempty"`
	Path     string `toml:"path,omitempty"`
}
