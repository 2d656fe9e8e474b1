// Package domain define contratos e tipos de domínio para o controle de admissão
// de requisições: rate limit por janela deslizante, análise de padrões suspeitos
// e registro de IPs bloqueados.
//
// Este pacote não depende de net/http nem de implementações concretas.
// A intenção é permitir testes de unidade puros e desacoplar regras de negócio
// de detalhes de infraestrutura (Redis, memória, etc).
package domain
