// Package memory implements storage.ProxyStore and storage.NonceStore in
// process memory with background expiry of nonce records.
package memory
