// Package passkey holds WebAuthn relying-party configuration and the
// ceremony kind vocabulary shared by the broker and orchestrator.
package passkey
