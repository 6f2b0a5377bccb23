package config

import (
	"fmt"
	"strconv"
	"strings"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// leasePrefix is shared by SessionLeaseKey and the reaper's SCAN pattern.
const leasePrefix = "exam:lease:"

// SessionLeaseKey returns the key of a candidate's single exam session lease.
func (r *CacheKeyStruct) SessionLeaseKey(candidateID int) string {
	return leasePrefix + strconv.Itoa(candidateID)
}

// SessionLeasePattern matches every session lease key.
func (r *CacheKeyStruct) SessionLeasePattern() string {
	return leasePrefix + "*"
}

// CandidateFromLeaseKey extracts the candidate id from a lease key.
func (r *CacheKeyStruct) CandidateFromLeaseKey(key string) (int, bool) {
	raw, ok := strings.CutPrefix(key, leasePrefix)
	if !ok {
		return 0, false
	}
	id, err := strconv.Atoi(raw)
	if err != nil {
		return 0, false
	}
	return id, true
}

// AttemptViolationCountKey returns the key of an attempt's violation counter.
func (r *CacheKeyStruct) AttemptViolationCountKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:violations", attemptID)
}

var CacheKey = NewCacheKeyStruct()
