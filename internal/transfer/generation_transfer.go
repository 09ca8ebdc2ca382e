package transfer

type GenerateRequest struct {
	Prompt   string `json:"prompt" validate:"required,max=4000"`
	Variants int    `json:"variants" validate:"required,min=1,max=10"`
	Tone     string `json:"tone" validate:"omitempty,max=64"`
}

type GenerateResponse struct {
	OperationID string   `json:"operation_id"`
	Variants    []string `json:"variants"`
	Estimated   float64  `json:"credits_estimated"`
	Charged     float64  `json:"credits_charged"`
	Available   float64  `json:"credits_available"`
}
