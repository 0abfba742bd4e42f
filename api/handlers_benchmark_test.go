package api

import (
	"net/http"
	"testing"
)

func BenchmarkDragEnd(b *testing.B) {
	targets := []string{`{"overId":"completed"}`, `{"overId":"active"}`}

	for _, name := range []string{"Column", "Card"} {
		b.Run(name, func(b *testing.B) {
			s := newTestServer(b, nil)
			s.do(b, http.MethodGet, "/api/projects/board", "")
			over := targets
			if name == "Card" {
				over = []string{`{"overId":"p3"}`, `{"overId":"p2"}`}
			}

			b.ReportAllocs()
			b.ResetTimer()
			for i := 0; i < b.N; i++ {
				if rec := s.do(b, http.MethodPost, "/api/boards/projects/drag/start", `{"itemId":"p1","distance":10}`); rec.Code != http.StatusOK {
					b.Fatalf("drag start: unexpected status %d", rec.Code)
				}
				if rec := s.do(b, http.MethodPost, "/api/boards/projects/drag/end", over[i%2]); rec.Code != http.StatusOK {
					b.Fatalf("drag end: unexpected status %d", rec.Code)
				}
			}
		})
	}
}
