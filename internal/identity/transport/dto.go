package transport

type BootstrapRequest struct {
	BusinessName string `json:"business_name" validate:"required,max=120"`
	Timezone     string `json:"timezone" validate:"omitempty,max=100,timezone"`
}

type BootstrapResponse struct {
	OrganizationID string `json:"organization_id"`
	ProfileID      string `json:"profile_id"`
}

type RegisterDeviceRequest struct {
	DeviceID string `json:"device_id" validate:"omitempty,uuid"`
	Platform string `json:"platform" validate:"required,oneof=ios android web"`
	Label    string `json:"label" validate:"omitempty,max=120"`
}

type DeviceResponse struct {
	ID        string  `json:"id"`
	ProfileID string  `json:"profile_id"`
	Platform  string  `json:"platform"`
	Label     *string `json:"label"`
}
