package domain

import (
	"github.com/google/uuid"
	"github.com/segmentio/ksuid"
)

// ContextId identifies a document (spec §3 "Context"). Two principals
// creating documents concurrently can never collide, because the id comes
// from a UUID, not a coordinated counter.
type ContextId string

func NewContextId() ContextId {
	return ContextId(uuid.New().String())
}

// PrincipalId identifies a user or model. Generated with ksuid so that
// lexicographic byte order approximates creation order, per spec §3's
// identifier requirement.
type PrincipalId string

func NewPrincipalId() PrincipalId {
	return PrincipalId(ksuid.New().String())
}

// systemNamespace is fixed so SystemPrincipal() is the same value on every
// replica without coordination (spec §3: "a deterministic 'system'
// principal is derived from a fixed namespace").
var systemNamespace = uuid.MustParse("9b1f6c2e-2c2c-4b0a-8b0f-6b9b2c9d7f11")

var systemPrincipal = PrincipalId("system_" + uuid.NewSHA1(systemNamespace, []byte("kaijutsu-kernel")).String())

// SystemPrincipal returns the stable author used for kernel-generated
// blocks (hook listener transitions, compaction notices, etc).
func SystemPrincipal() PrincipalId {
	return systemPrincipal
}

type KernelId string

func NewKernelId() KernelId {
	return KernelId(ksuid.New().String())
}

type SessionId string

func NewSessionId() SessionId {
	return SessionId(ksuid.New().String())
}

// BlockId is (context, principal, sequence): globally unique and
// independently generable without coordination (spec §3).
type BlockId struct {
	ContextId   ContextId   `json:"contextId"`
	PrincipalId PrincipalId `json:"principalId"`
	Sequence    uint64      `json:"sequence"`
}

func (id BlockId) String() string {
	return string(id.ContextId) + ":" + string(id.PrincipalId) + ":" + itoa(id.Sequence)
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}
