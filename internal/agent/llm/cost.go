package llm

// pricing is USD per 1M text tokens (standard tier).
type pricing struct {
	inputPerM  float64
	outputPerM float64
}

var modelPricing = map[string]pricing{
	"gemini-2.5-flash":      {inputPerM: 0.30, outputPerM: 2.50},
	"gemini-2.5-flash-lite": {inputPerM: 0.10, outputPerM: 0.40},
}

// estimateCost converts token usage to an estimated USD cost. Unknown
// models report zero rather than guessing.
func estimateCost(modelName string, promptTokens, completionTokens int) float64 {
	p := modelPricing[modelName]
	return p.inputPerM*float64(promptTokens)/1_000_000.0 +
		p.outputPerM*float64(completionTokens)/1_000_000.0
}
