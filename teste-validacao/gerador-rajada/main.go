package main

import (
	"flag"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"
)

// Gerador de rajada para validação manual do analisador de padrões:
// dispara N requisições rápidas contra o gateway e imprime a distribuição
// de status. Com os thresholds de fábrica (20 req / 10s), ~25 requisições
// devem derrubar o IP na deny-list (403 nas seguintes).
func main() {
	target := flag.String("target", "http://localhost:8080/", "URL alvo (gateway)")
	total := flag.Int("n", 25, "número de requisições")
	delay := flag.Duration("delay", 100*time.Millisecond, "intervalo entre requisições")
	workers := flag.Int("c", 1, "requisições em paralelo")
	flag.Parse()

	var mu sync.Mutex
	counts := map[int]int{}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < *workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				resp, err := http.Get(*target)
				if err != nil {
					fmt.Printf("erro: %v\n", err)
					continue
				}
				_, _ = io.Copy(io.Discard, resp.Body)
				_ = resp.Body.Close()

				mu.Lock()
				counts[resp.StatusCode]++
				mu.Unlock()
			}
		}()
	}

	for i := 0; i < *total; i++ {
		jobs <- i
		time.Sleep(*delay)
	}
	close(jobs)
	wg.Wait()

	fmt.Printf("alvo: %s  total: %d\n", *target, *total)
	for code, n := range counts {
		fmt.Printf("  %d: %d\n", code, n)
	}
}
