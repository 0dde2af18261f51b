package models

// Requests and responses for the signals HTTP endpoints.

type CreateSignalRequest struct {
	Type         string  `json:"type" validate:"required,signal_type"`
	Symbol       string  `json:"symbol" default:"UNKNOWN"`
	Price        float64 `json:"price"`
	Session      string  `json:"session"`
	Confidence   int     `json:"confidence" default:"75"`
	SignalNumber int     `json:"signalNumber" default:"1"`
}

type QuerySignalsRequest struct {
	Type    string `query:"type" validate:"omitempty,signal_type"`
	Session string `query:"session"`
	Symbol  string `query:"symbol"`
	Limit   int    `query:"limit" default:"50" validate:"gte=1,lte=1000"`
}

// Filter converts the request into a store filter.
func (r *QuerySignalsRequest) Filter() SignalFilter {
	return SignalFilter{
		Type:    SignalType(r.Type),
		Session: Session(r.Session),
		Symbol:  r.Symbol,
		Limit:   r.Limit,
	}.Normalize()
}

type SignalIDRequest struct {
	ID int64 `param:"id" validate:"required,gte=1"`
}

type UpdateStatusRequest struct {
	ID     int64  `param:"id" validate:"required,gte=1"`
	Status string `json:"status" validate:"required"`
}

type IngestResponse struct {
	Status          string  `json:"status"`
	Message         string  `json:"message"`
	Signal          *Signal `json:"signal"`
	ClientsNotified int     `json:"clientsNotified"`
}

type SignalListResponse struct {
	Success bool      `json:"success"`
	Count   int       `json:"count"`
	Signals []*Signal `json:"signals"`
}

type DeleteSignalResponse struct {
	Success bool   `json:"success"`
	Removed bool   `json:"removed"`
	Message string `json:"message"`
}

type HealthResponse struct {
	Status           string  `json:"status"`
	Message          string  `json:"message"`
	ConnectedClients int     `json:"connectedClients"`
	Uptime           float64 `json:"uptime"`
	Store            string  `json:"store"`
}
