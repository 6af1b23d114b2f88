package gacha

import (
	cryptorand "crypto/rand"
	"encoding/binary"
	"math/rand/v2"
	"time"
)

// NewRNG возвращает генератор, засеянный из crypto/rand. Используется по
// умолчанию в боевых розыгрышах.
func NewRNG() *rand.Rand {
	var buf [16]byte
	if _, err := cryptorand.Read(buf[:]); err != nil {
		return rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0))
	}
	s1 := binary.BigEndian.Uint64(buf[:8])
	s2 := binary.BigEndian.Uint64(buf[8:])
	return rand.New(rand.NewPCG(s1, s2))
}

// NewSeededRNG возвращает воспроизводимый генератор для тестов и симуляций.
func NewSeededRNG(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, 0))
}
