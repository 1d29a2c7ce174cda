package message

// WebhookRequest is the body of one transport webhook call. Transports batch
// several deliveries per call.
type WebhookRequest struct {
	Messages []Inbound `json:"messages"`
}
