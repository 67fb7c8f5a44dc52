package agent

import (
	"context"
	"crypto/rand"
	"log"
	"math/big"
	"strconv"
	"time"

	"sitepulse/internal/store"
)

const visitorIDKey = "visitor_id"

// loadOrCreateID resolves the stable per-installation visitor id: reuse the
// stored one, otherwise generate and persist. A broken store downgrades to
// an in-memory id for this run only.
func loadOrCreateID(ctx context.Context, st *store.Store) string {
	if st != nil {
		if id, err := st.GetSetting(ctx, visitorIDKey); err != nil {
			log.Printf("visitor id load failed: %v", err)
		} else if id != "" {
			return id
		}
	}
	id := generateVisitorID()
	if st != nil {
		if err := st.SetSetting(ctx, visitorIDKey, id); err != nil {
			log.Printf("visitor id save failed: %v", err)
		}
	}
	return id
}

// generateVisitorID combines the current timestamp with a short random
// base36 suffix, matching the id shape the dashboards expect.
func generateVisitorID() string {
	return "visitor_" + strconv.FormatInt(time.Now().UnixMilli(), 10) + "_" + randomSuffix(9)
}

func randomSuffix(length int) string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	text := new(big.Int).SetBytes(buf).Text(36)
	// small values render fewer base36 digits; pad so the id shape stays fixed.
	for len(text) < length {
		text = "0" + text
	}
	return text[:length]
}
