// Package infra contém implementações concretas (infraestrutura) para os
// contratos definidos no pacote domain.
//
// Exemplos:
//   - RedisWindowStore / RedisBlockRegistry: produção, multi-instância,
//     sobre sorted sets e hashes do Redis (github.com/redis/go-redis/v9)
//   - MemoryWindowStore / MemoryBlockRegistry: testes e deploys de nó único,
//     mapas protegidos por mutex com a mesma semântica de poda preguiçosa
//   - SlotPool: semáforo simples para limite de concorrência
package infra
