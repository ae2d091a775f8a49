package core

import "time"

// User is the read-only shape the engine consumes from the tenant
// directory. User lifecycle management belongs to the surrounding
// platform; the engine only resolves recipients from it.
type User struct {
	ID        string    `json:"id"`
	TenantID  string    `json:"tenant_id"`
	Email     string    `json:"email"`
	Phone     string    `json:"phone,omitempty"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Tenant is an isolated organization. Only identity fields are consumed.
type Tenant struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}
