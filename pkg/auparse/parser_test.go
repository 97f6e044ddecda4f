package auparse

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yairfalse/auditstream/pkg/domain"
)

const syscallLine = `type=SYSCALL msg=audit(1364481363.243:24287): arch=c000003e syscall=2 success=no exit=-13 a0=7fffd19c5592 a1=0 a2=7fffd19c4b50 a3=a items=1 ppid=2686 pid=3538 auid=1000 uid=1000 gid=1000 euid=1000 suid=1000 fsuid=1000 egid=1000 sgid=1000 fsgid=1000 tty=pts0 ses=1 comm="cat" exe="/bin/cat" subj=unconfined_u:unconfined_r:unconfined_t:s0-s0:c0.c1023 key="sshd_config"`

func TestParseLine_Syscall(t *testing.T) {
	rec, err := ParseLine(syscallLine)
	require.NoError(t, err)

	assert.Equal(t, domain.TypeSyscall, rec.Type)
	assert.Equal(t, int64(1364481363243), rec.Timestamp.UnixMilli())
	assert.Equal(t, uint64(24287), rec.Serial)
	assert.Len(t, rec.Fields, 26)

	// First and last fields confirm insertion order.
	assert.Equal(t, domain.Field{Key: "arch", Value: "c000003e"}, rec.Fields[0])
	assert.Equal(t, domain.Field{Key: "key", Value: `"sshd_config"`}, rec.Fields[25])

	// Quoted values keep their quotes.
	comm, ok := rec.Field("comm")
	require.True(t, ok)
	assert.Equal(t, `"cat"`, comm)

	// Values containing colons survive intact.
	subj, ok := rec.Field("subj")
	require.True(t, ok)
	assert.Equal(t, "unconfined_u:unconfined_r:unconfined_t:s0-s0:c0.c1023", subj)
}

func TestParseLine_CwdDoubleSpace(t *testing.T) {
	rec, err := ParseLine(`type=CWD msg=audit(1364481363.243:24287):  cwd="/home/shadowman"`)
	require.NoError(t, err)

	assert.Equal(t, domain.TypeCwd, rec.Type)
	require.Len(t, rec.Fields, 1)
	assert.Equal(t, domain.Field{Key: "cwd", Value: `"/home/shadowman"`}, rec.Fields[0])
}

func TestParseLine_ProctitleSpacedColon(t *testing.T) {
	// Older kernels emit the preamble colon as a separate token.
	rec, err := ParseLine(`type=PROCTITLE msg=audit(1364481363.243:24287) : proctitle=636174002F6574632F7373682F737368645F636F6E666967`)
	require.NoError(t, err)

	assert.Equal(t, domain.TypeProctitle, rec.Type)
	assert.Equal(t, uint64(24287), rec.Serial)
	require.Len(t, rec.Fields, 1)
	assert.Equal(t, "proctitle", rec.Fields[0].Key)
}

func TestParseLine_QuotedValueWithSpaces(t *testing.T) {
	rec, err := ParseLine(`type=USER_TTY msg=audit(1364481363.243:24288): data="ls -la /tmp" pid=99`)
	require.NoError(t, err)

	data, ok := rec.Field("data")
	require.True(t, ok)
	assert.Equal(t, `"ls -la /tmp"`, data)

	pid, ok := rec.Field("pid")
	require.True(t, ok)
	assert.Equal(t, "99", pid)
}

func TestParseLine_BraceGroup(t *testing.T) {
	rec, err := ParseLine(`type=SOCKADDR msg=audit(1364481363.243:24289): saddr={ saddr_fam=netlink  nlnk-fam=16   nlnk-pid=0 } item=0`)
	require.NoError(t, err)

	saddr, ok := rec.Field("saddr")
	require.True(t, ok)
	assert.Equal(t, "{ saddr_fam=netlink nlnk-fam=16 nlnk-pid=0 }", saddr)

	item, ok := rec.Field("item")
	require.True(t, ok)
	assert.Equal(t, "0", item)
}

func TestParseLine_UnknownTypeSymbol(t *testing.T) {
	rec, err := ParseLine(`type=UNKNOWN[1301] msg=audit(1364481363.243:24290): a=1`)
	require.NoError(t, err)
	assert.Equal(t, domain.RecordType(1301), rec.Type)

	_, err = ParseLine(`type=BOGUS msg=audit(1364481363.243:24290): a=1`)
	assert.ErrorIs(t, err, ErrInvalidPreamble)
}

func TestParseLine_TrailingWordIsInvalidLine(t *testing.T) {
	_, err := ParseLine(`type=SYSCALL syscall`)
	var invalid *InvalidLineError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, `type=SYSCALL syscall`, invalid.Line)
}

func TestParseLine_StrayWordAfterFields(t *testing.T) {
	_, err := ParseLine(`type=SYSCALL msg=audit(1364481363.243:24287): arch=c000003e denied`)
	var invalid *InvalidLineError
	require.ErrorAs(t, err, &invalid)
}

func TestParseLine_DuplicateField(t *testing.T) {
	_, err := ParseLine(`type=SYSCALL msg=audit(1364481363.243:24287): pid=1 pid=2`)
	var dup *DuplicateFieldError
	require.ErrorAs(t, err, &dup)
	assert.Equal(t, "pid", dup.Key)
}

func TestParseLine_PreambleFailures(t *testing.T) {
	tests := []struct {
		name string
		line string
	}{
		{"empty", ""},
		{"no type token", `msg=audit(1.2:3): a=1`},
		{"missing msg", `type=SYSCALL arch=c000003e`},
		{"no parens", `type=SYSCALL msg=audit1.2:3 a=1`},
		{"no dot", `type=SYSCALL msg=audit(12:3): a=1`},
		{"no serial sep", `type=SYSCALL msg=audit(1.2): a=1`},
		{"unclosed", `type=SYSCALL msg=audit(1.2:3`},
		{"bad seconds", `type=SYSCALL msg=audit(x.2:3): a=1`},
		{"bad msec", `type=SYSCALL msg=audit(1.x:3): a=1`},
		{"bad serial", `type=SYSCALL msg=audit(1.2:x): a=1`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseLine(tt.line)
			assert.ErrorIs(t, err, ErrInvalidPreamble)
		})
	}
}

func TestParse_NetlinkPayload(t *testing.T) {
	rec, err := Parse(domain.TypeCwd, `audit(1364481363.243:24287):  cwd="/home/shadowman"`)
	require.NoError(t, err)

	assert.Equal(t, domain.TypeCwd, rec.Type)
	assert.Equal(t, int64(1364481363243), rec.Timestamp.UnixMilli())
	assert.Equal(t, uint64(24287), rec.Serial)
	require.Len(t, rec.Fields, 1)
	assert.Equal(t, `"/home/shadowman"`, rec.Fields[0].Value)
}

func TestParse_PayloadWithoutPreamble(t *testing.T) {
	_, err := Parse(domain.TypeSyscall, "syscall data without header")
	assert.ErrorIs(t, err, ErrInvalidPreamble)
}

func TestParse_EmptyFieldSection(t *testing.T) {
	// An end-of-event record carries no fields at all.
	rec, err := Parse(domain.TypeEoe, `audit(1364481363.243:24287): `)
	require.NoError(t, err)
	assert.Empty(t, rec.Fields)
}

func TestParse_ErrorsAreTyped(t *testing.T) {
	_, err := Parse(domain.TypeSyscall, `audit(1.100:2): pid=1 stray pid=2`)
	var invalid *InvalidLineError
	assert.True(t, errors.As(err, &invalid))

	_, err = Parse(domain.TypeSyscall, `audit(1.100:2): pid=1 pid=2`)
	var dup *DuplicateFieldError
	assert.True(t, errors.As(err, &dup))
}

func TestTokenize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"plain", "a=1 b=2", []string{"a=1", "b=2"}},
		{"runs of spaces", "a=1   b=2", []string{"a=1", "b=2"}},
		{"lone colon", ": a=1", []string{":", "a=1"}},
		{"quoted spaces", `a="x y z" b=2`, []string{`a="x y z"`, "b=2"}},
		{"brace group", "a={ x=1  y=2 } b=3", []string{"a={ x=1 y=2 }", "b=3"}},
		{"nested braces", "a={ x={ y=1 } } b=2", []string{"a={ x={ y=1 } }", "b=2"}},
		{"empty", "", nil},
		{"only spaces", "   ", nil},
		{"unterminated quote", `a="open b=2`, []string{`a="open b=2`}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tokenize(tt.in))
		})
	}
}
