package models

// Enums lists the closed value sets accepted or returned by the API.
type Enums struct {
	Incidents       []string `json:"incidents"`
	Directions      []string `json:"directions"`
	TemperatureBins []string `json:"temperatureBins"`
	RainBins        []string `json:"rainBins"`
	DelayThreshold  int      `json:"delayThresholdMinutes"`
}

// EncoderColumn summarizes the code table of one categorical column.
type EncoderColumn struct {
	Column  string `json:"column"`
	Labels  int    `json:"labels"`
	FitSize int    `json:"fitSize"`
	Unknown bool   `json:"unknownAppended"`
}

// EncoderSummary describes the encoder registry held by the server.
type EncoderSummary struct {
	Columns []EncoderColumn `json:"columns"`
}

// PersistResult is returned after the registry has been written back.
type PersistResult struct {
	Container string    `json:"container"`
	Name      string    `json:"name"`
	SavedAt   Timestamp `json:"savedAt"`
}
