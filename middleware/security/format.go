// utilitário pequeno para formatação rápida/consistente de valores numéricos
// em headers. Evita puxar fmt só para isso e padroniza a formatação do float
// (strconv.FormatFloat), sem notação científica para valores comuns.

package security

import "strconv"

func formatInt(v int64) string { return strconv.FormatInt(v, 10) }

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
