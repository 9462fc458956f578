package sema

import (
	"strconv"
	"testing"
)

func BenchmarkAccess(b *testing.B) {
	s := New(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		g, err := s.Access()
		if err != nil {
			b.Fatal(err)
		}
		g.Release()
	}
}

func BenchmarkWaitPost(b *testing.B) {
	s := New(1)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if err := s.Wait(); err != nil {
			b.Fatal(err)
		}
		s.Post()
	}
}

func BenchmarkWaitPostParallel(b *testing.B) {
	s := New(1)
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			for s.Wait() != nil {
			}
			s.Post()
		}
	})
}

func BenchmarkNew(b *testing.B) {
	for _, value := range []uint32{0, 1, 100} {
		b.Run(strconv.Itoa(int(value)), func(b *testing.B) {
			for i := 0; i < b.N; i++ {
				s := New(value)
				s.Close()
			}
		})
	}
}
