// Package accessor provides secure storage backends for serialized token caches.
//
// Four backends implement Accessor with different security and deployment tradeoffs:
//   - EncryptedFile: a file encrypted for the current user (DPAPI on Windows,
//     secretbox with a user-derived key elsewhere)
//   - Keychain: OS-native credential storage (macOS Keychain, Windows Credential
//     Manager, Linux Secret Service) addressed by namespace, service and account
//   - SecretService: attribute-tagged items in a freedesktop secret service collection
//   - PlaintextFile: an unprotected file, only for callers that opt in explicitly
//
// Every backend is anchored at a cache file path. File backends store the payload
// there; the others only use it to derive companion artifacts (version marker and
// lock file) owned by other packages.
//
// Payloads are opaque. A nil payload is rejected; an empty payload is a valid
// "no secrets" state.
package accessor
