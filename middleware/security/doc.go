// Package security fornece o middleware HTTP (net/http) de controle de
// admissão: rate limit multi-tier por janela deslizante, análise heurística de
// padrões suspeitos e deny-list de IPs com TTL.
//
// Visão geral (camadas):
//
//   - domain: contratos e tipos do domínio (sem dependência de net/http)
//   - application: casos de uso (limiter, analyzer, política de bloqueio) sem net/http
//   - infra: implementações concretas (Redis sorted sets, memória), detalhes de infraestrutura
//   - security (este pacote): middleware HTTP + extração de IP + tradução para status/headers/JSON
//
// Fluxo por requisição (do mais barato/decisivo para o mais caro):
//
//  1. Bypass: endpoints de health e IPs de admin passam direto
//  2. Deny-list: IP bloqueado responde 403 IP_BLOCKED
//  3. Análise de padrões: severidade >= limiar bloqueia o IP (SUSPICIOUS_ACTIVITY);
//     faixa intermediária apenas loga; abaixo, ignora
//  4. Limite por IP, depois por usuário (se autenticado), depois por endpoint
//     (se houver override mais estrito) — cada checagem nega com 429 e um
//     error_code estável
//  5. Handler, com cabeçalhos de segurança e X-Process-Time na resposta
//
// Qualquer falha inesperada dentro do pipeline é fail-open: a requisição segue
// sem proteção e o erro vai para o log — disponibilidade vence rigidez.
package security
