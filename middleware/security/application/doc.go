// Package application contém os casos de uso do controle de admissão:
// decisão de rate limit (janela deslizante + burst + tiers), análise de
// padrões suspeitos e política de bloqueio por severidade.
//
// Ele depende apenas do pacote domain e não conhece net/http.
// Ex.: Limiter.Allow(...) devolve um domain.Result (allow/deny + retry-after).
//
// Falhas do store nunca sobem como erro: viram resultado de fallback
// (fail-open), com log de alerta limitado por golang.org/x/time/rate para
// não inundar o log durante uma indisponibilidade.
package application
