package db

// ConsumptionSample is one normalized meter reading, keyed by Timestamp
type ConsumptionSample struct {
	// Timestamp is the wall-clock-relabelled ISO instant and the primary key.
	Timestamp         string  `json:"timestamp"`
	OriginalTimestamp string  `json:"originalTimestamp"`
	Day               string  `json:"day"`
	Papp              float64 `json:"papp"`
	Iinst             float64 `json:"iinst"`
	Ptec              string  `json:"ptec"`
	Hchc              float64 `json:"hchc"`
	Hchp              float64 `json:"hchp"`
}
