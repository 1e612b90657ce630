// Package storage provides the persistence interfaces used by the tool
// provider: ProxyStore for tool proxy trust records and NonceStore for
// launch replay protection.
//
// Implementations:
//   - storage/memory: in-memory store for development, testing, and
//     single-instance deployments
//   - storage/bolt: bbolt-backed store for durable single-node deployments
package storage
