package domain

// ValidateTemplateRequest asks for a syntax check of template fields.
type ValidateTemplateRequest struct {
	Subject  string `json:"subject" binding:"required"`
	HTMLBody string `json:"html_body" binding:"required"`
	TextBody string `json:"text_body,omitempty"`
}

// PreviewTemplateRequest asks for a pure render with no usage-count side
// effect.
type PreviewTemplateRequest struct {
	Subject   string         `json:"subject" binding:"required"`
	HTMLBody  string         `json:"html_body" binding:"required"`
	TextBody  string         `json:"text_body,omitempty"`
	Variables map[string]any `json:"variables,omitempty"`
}

// TestConnectionRequest triggers a fixed verification email through the
// organization's configured provider.
type TestConnectionRequest struct {
	OrgID       string `json:"org_id" binding:"required"`
	TestAddress string `json:"test_address" binding:"required,email"`
}

// ValidateConnectionRequest asks for a side-effect-free provider capability
// check.
type ValidateConnectionRequest struct {
	OrgID string `json:"org_id" binding:"required"`
}

// GetDeliveriesRequest filters delivery log queries.
type GetDeliveriesRequest struct {
	OrgID    string         `form:"org_id" binding:"required"`
	Event    EventType      `form:"event"`
	Status   DeliveryStatus `form:"status"`
	Page     int            `form:"page"`
	PageSize int            `form:"page_size"`
}
