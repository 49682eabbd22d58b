package engine

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"time"

	"github.com/roach88/orq/internal/plan"
)

func init() {
	gob.Register(time.Time{})
}

const domainResult = "orq/result/v1"

// resultKey identifies the rows of a plan executed with args.
func resultKey(key plan.Key, args [][]any) (string, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(args); err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write([]byte(domainResult))
	h.Write([]byte{0x00})
	h.Write([]byte(key))
	h.Write([]byte{0x00})
	h.Write(buf.Bytes())
	return hex.EncodeToString(h.Sum(nil)), nil
}

// useCache serves the rows of s from the second-level cache, or reads them
// and stores them there. Plans without a cache key always run.
func (s *resultSource) useCache(ctx context.Context) error {
	q := s.query
	e := q.session.engine
	if e.region == nil {
		return nil
	}
	key, ok := q.CacheKey()
	if !ok {
		return nil
	}

	args := make([][]any, 0, len(s.plan.Parts()))
	for _, part := range s.plan.Parts() {
		op, err := part.Operation(q.bindings)
		if err != nil {
			return err
		}
		a, err := op.Args(q.bindings)
		if err != nil {
			return err
		}
		args = append(args, a)
	}
	rkey, err := resultKey(key, args)
	if err != nil {
		e.logger.Debug("result not cacheable", "execution_id", s.execID, "error", err)
		return nil
	}

	data, hit, err := e.region.Get(rkey)
	if err != nil {
		e.logger.Warn("cache read failed", "execution_id", s.execID, "error", err)
	}
	if hit {
		var rows [][][]any
		if err := gob.NewDecoder(bytes.NewReader(data)).Decode(&rows); err == nil {
			e.logger.Debug("result cache hit", "execution_id", s.execID)
			s.cached = rows
			return nil
		}
	}

	readAt := e.region.Timestamp()
	rows, err := s.readAll(ctx)
	if err != nil {
		return err
	}
	s.cached = rows

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rows); err != nil {
		e.logger.Debug("result not cacheable", "execution_id", s.execID, "error", err)
		return nil
	}
	if err := e.region.Put(rkey, s.plan.Spaces(), buf.Bytes(), readAt); err != nil {
		e.logger.Warn("cache write failed", "execution_id", s.execID, "error", err)
	}
	return nil
}
