// Package sandboxapi defines the wire types for the remote sandbox
// HTTP surface of spec §6: POST /api/sandboxes/:id (create),
// GET .../status, POST .../pause, POST .../resume, DELETE .../:id, and
// the GET /ws/sandboxes/:id WebSocket upgrade used for stdio.
//
// Grounded on the reference server's internal/sandbox/sandboxapi
// package, narrowed to the lifecycle surface the remote worker
// provider actually exercises (the reference's much larger file/git/
// service/hook surface belongs to the agent binary, which is out of
// scope per spec §1).
package sandboxapi

// CreateRequest is the POST /api/sandboxes/:id request body.
type CreateRequest struct {
	SessionID       string            `json:"sessionId"`
	Image           string            `json:"image,omitempty"`
	WorkspaceCommit string            `json:"workspaceCommit,omitempty"`
	ResourceTier    string            `json:"resourceTier,omitempty"`
	Secrets         []SecretManifest  `json:"secrets,omitempty"`
	Env             map[string]string `json:"env,omitempty"` // ephemeral env vars for this call only
	WaitForRestore  bool              `json:"waitForRestore"`
}

// SecretManifest mirrors sandbox.SecretEntry over the wire.
type SecretManifest struct {
	EnvName  string `json:"envName"`
	Filename string `json:"filename"`
}

// CreateResponse is the POST /api/sandboxes/:id response body.
type CreateResponse struct {
	ProviderID string `json:"providerId"`
}

// StatusResponse is the GET .../status response body.
type StatusResponse struct {
	Phase     string `json:"phase"`
	HasBackup bool   `json:"hasBackup"`
}

// ResumeRequest is the POST .../resume request body.
type ResumeRequest struct {
	Env            map[string]string `json:"env,omitempty"`
	WaitForRestore bool              `json:"waitForRestore"`
}

// ErrorResponse is returned for 4xx/5xx errors from the remote worker.
type ErrorResponse struct {
	Error string `json:"error"`
}

// SharedSecretHeader is the HTTP header name carrying the shared
// secret required by every non-health request to the remote worker.
const SharedSecretHeader = "X-Relay-Secret"
