package models

// Remote property keys understood by the Access Server.
const (
	PropEmail       = "email"
	PropDisplayName = "display_name"
	PropSuperuser   = "prop_superuser"
	PropType        = "type"

	// Value of PropType for a regular connect-capable account.
	AccountTypeUserConnect = "user_connect"
)

// VpnAccount is a user as known by the OpenVPN Access Server.
type VpnAccount struct {
	Username   string            `json:"username"`
	Properties map[string]string `json:"properties"`
}

// DesiredProperties returns the remote properties a user record maps to.
func DesiredProperties(u *UserRecord) map[string]string {
	superuser := "false"
	if u.IsAdmin() {
		superuser = "true"
	}
	return map[string]string{
		PropEmail:       u.Email,
		PropDisplayName: u.DisplayName,
		PropSuperuser:   superuser,
	}
}
