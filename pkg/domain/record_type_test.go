package domain

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecordType_CodeRoundTrip(t *testing.T) {
	// Every possible code survives a code -> type -> code round trip,
	// including the gaps with no named symbol.
	for code := 0; code <= 0xFFFF; code++ {
		rt := RecordTypeFromCode(uint16(code))
		assert.Equal(t, uint16(code), rt.Code())
	}
}

func TestRecordType_String(t *testing.T) {
	tests := []struct {
		rt   RecordType
		want string
	}{
		{TypeSyscall, "SYSCALL"},
		{TypeCwd, "CWD"},
		{TypePath, "PATH"},
		{TypeProctitle, "PROCTITLE"},
		{TypeEoe, "EOE"},
		{TypeLogin, "LOGIN"},
		{TypeAvc, "AVC"},
		{TypeMacCipsoV4Add, "MAC_CIPSO_V4_ADD"},
		{TypeAnomalyPromiscuous, "ANOM_PROMISCUOUS"},
		{TypeIntegrityPolicyRule, "INTEGRITY_POLICY_RULE"},
		{TypeKernel, "KERNEL"},
		{TypeCryptoKeyUser, "CRYPTO_KEY_USER"},
		{RecordType(1301), "UNKNOWN[1301]"},
		{RecordType(9999), "UNKNOWN[9999]"},
	}
	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.rt.String())
		})
	}
}

func TestRecordTypeFromName(t *testing.T) {
	rt, ok := RecordTypeFromName("SYSCALL")
	require.True(t, ok)
	assert.Equal(t, TypeSyscall, rt)

	rt, ok = RecordTypeFromName("UNKNOWN[1301]")
	require.True(t, ok)
	assert.Equal(t, RecordType(1301), rt)

	_, ok = RecordTypeFromName("NOT_A_TYPE")
	assert.False(t, ok)

	_, ok = RecordTypeFromName("UNKNOWN[notanumber]")
	assert.False(t, ok)

	_, ok = RecordTypeFromName("UNKNOWN[99999]")
	assert.False(t, ok, "code outside uint16 range must not resolve")
}

func TestRecordType_NameRoundTrip(t *testing.T) {
	// String output always parses back to the same type, named or not.
	for code := 0; code <= 0xFFFF; code++ {
		rt := RecordType(code)
		back, ok := RecordTypeFromName(rt.String())
		require.True(t, ok, "code %d", code)
		require.Equal(t, rt, back, "code %d", code)
	}
}

func TestRecordType_JSON(t *testing.T) {
	data, err := json.Marshal(TypeSyscall)
	require.NoError(t, err)
	assert.Equal(t, `"SYSCALL"`, string(data))

	data, err = json.Marshal(RecordType(1301))
	require.NoError(t, err)
	assert.Equal(t, `"UNKNOWN[1301]"`, string(data))

	var rt RecordType
	require.NoError(t, json.Unmarshal([]byte(`"PROCTITLE"`), &rt))
	assert.Equal(t, TypeProctitle, rt)

	require.NoError(t, json.Unmarshal([]byte(`"UNKNOWN[2001]"`), &rt))
	assert.Equal(t, RecordType(2001), rt)

	require.NoError(t, json.Unmarshal([]byte(`1327`), &rt))
	assert.Equal(t, TypeProctitle, rt)

	assert.Error(t, json.Unmarshal([]byte(`"BOGUS"`), &rt))
}

func TestRecordType_Known(t *testing.T) {
	assert.True(t, TypeSyscall.Known())
	assert.True(t, TypeKernel.Known())
	assert.False(t, RecordType(1301).Known())
	assert.False(t, RecordType(1308).Known())
	assert.False(t, RecordType(1310).Known())
	assert.False(t, RecordType(1411).Known())
}

func TestRecordType_Predicates(t *testing.T) {
	tests := []struct {
		code         uint16
		belowFirst   bool
		anomalyRange bool
		macRange     bool
		kernelSingle bool
	}{
		{1000, true, false, false, false},
		{1006, true, false, false, false},
		{1299, true, false, false, false},
		{1300, false, false, false, false},
		{1320, false, false, false, false},
		{1405, false, false, false, false},
		{1406, false, false, true, false},
		{1419, false, false, true, false},
		{1420, false, false, false, false},
		{1700, false, false, false, false},
		{2000, false, false, false, true},
		{2099, false, false, false, false},
		{2100, false, true, false, false},
		{2404, false, true, false, false},
		{65535, false, true, false, false},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprintf("code_%d", tt.code), func(t *testing.T) {
			rt := RecordTypeFromCode(tt.code)
			assert.Equal(t, tt.belowFirst, rt.IsBelowFirstEvent(), "below first event")
			assert.Equal(t, tt.anomalyRange, rt.IsAnomalyOrAbove(), "anomaly or above")
			assert.Equal(t, tt.macRange, rt.IsSingleRecordMAC(), "mac range")
			assert.Equal(t, tt.kernelSingle, rt.IsSingleRecordKernel(), "kernel single")
		})
	}

	assert.True(t, TypeEoe.IsEndOfEvent())
	assert.False(t, TypeSyscall.IsEndOfEvent())
	assert.True(t, TypeProctitle.IsProctitle())
	assert.False(t, TypeEoe.IsProctitle())
}
