package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// RecordType identifies the kind of audit record the kernel emitted. It is
// backed by the numeric type code carried in the netlink header, so
// conversion between code and type is total in both directions and codes
// without a named constant survive a round trip unchanged.
type RecordType uint16

// Record type codes as assigned by the kernel audit subsystem.
const (
	// Control (1000-1019)
	TypeGetStatus   RecordType = 1000
	TypeSetStatus   RecordType = 1001
	TypeList        RecordType = 1002
	TypeAdd         RecordType = 1003
	TypeDel         RecordType = 1004
	TypeUser        RecordType = 1005
	TypeLogin       RecordType = 1006
	TypeWatchInsert RecordType = 1007
	TypeWatchRemove RecordType = 1008
	TypeWatchList   RecordType = 1009
	TypeSignalInfo  RecordType = 1010
	TypeAddRule     RecordType = 1011
	TypeDelRule     RecordType = 1012
	TypeListRules   RecordType = 1013
	TypeTrim        RecordType = 1014
	TypeMakeEquiv   RecordType = 1015
	TypeTtyGet      RecordType = 1016
	TypeTtySet      RecordType = 1017
	TypeSetFeature  RecordType = 1018
	TypeGetFeature  RecordType = 1019

	// User space messages (1100-1199 subset)
	TypeFirstUserMsg RecordType = 1100
	TypeUserAvc      RecordType = 1107
	TypeUserTty      RecordType = 1124
	TypeLastUserMsg  RecordType = 1199

	// Daemon (1200-1203)
	TypeDaemonStart  RecordType = 1200
	TypeDaemonEnd    RecordType = 1201
	TypeDaemonAbort  RecordType = 1202
	TypeDaemonConfig RecordType = 1203

	// Kernel event records (1300-1335, with 1301/1308/1310 unassigned)
	TypeSyscall       RecordType = 1300
	TypePath          RecordType = 1302
	TypeIpc           RecordType = 1303
	TypeSocketcall    RecordType = 1304
	TypeConfigChange  RecordType = 1305
	TypeSockaddr      RecordType = 1306
	TypeCwd           RecordType = 1307
	TypeExecve        RecordType = 1309
	TypeIpcSetPerm    RecordType = 1311
	TypeMqOpen        RecordType = 1312
	TypeMqSendRecv    RecordType = 1313
	TypeMqNotify      RecordType = 1314
	TypeMqGetSetAttr  RecordType = 1315
	TypeKernelOther   RecordType = 1316
	TypeFdPair        RecordType = 1317
	TypeObjPid        RecordType = 1318
	TypeTty           RecordType = 1319
	TypeEoe           RecordType = 1320
	TypeBprmFcaps     RecordType = 1321
	TypeCapset        RecordType = 1322
	TypeMmap          RecordType = 1323
	TypeNetfilterPkt  RecordType = 1324
	TypeNetfilterCfg  RecordType = 1325
	TypeSeccomp       RecordType = 1326
	TypeProctitle     RecordType = 1327
	TypeFeatureChange RecordType = 1328
	TypeReplace       RecordType = 1329
	TypeKernModule    RecordType = 1330
	TypeFanotify      RecordType = 1331
	TypeTimeInjOffset RecordType = 1332
	TypeTimeAdjNtpVal RecordType = 1333
	TypeBpf           RecordType = 1334
	TypeEventListener RecordType = 1335

	// SELinux / MAC (1400-1421, with 1411-1414 unassigned)
	TypeAvc             RecordType = 1400
	TypeSelinuxErr      RecordType = 1401
	TypeAvcPath         RecordType = 1402
	TypeMacPolicyLoad   RecordType = 1403
	TypeMacStatus       RecordType = 1404
	TypeMacConfigChange RecordType = 1405
	TypeMacUnlblAllow   RecordType = 1406
	TypeMacCipsoV4Add   RecordType = 1407
	TypeMacCipsoV4Del   RecordType = 1408
	TypeMacMapAdd       RecordType = 1409
	TypeMacMapDel       RecordType = 1410
	TypeMacIpsecEvent   RecordType = 1415
	TypeMacUnlblStcAdd  RecordType = 1416
	TypeMacUnlblStcDel  RecordType = 1417
	TypeMacCalipsoAdd   RecordType = 1418
	TypeMacCalipsoDel   RecordType = 1419
	TypeMacTaskContexts RecordType = 1420
	TypeMacObjContexts  RecordType = 1421

	// Anomaly reports (1700-1703)
	TypeAnomalyPromiscuous RecordType = 1700
	TypeAnomalyAbend       RecordType = 1701
	TypeAnomalyLink        RecordType = 1702
	TypeAnomalyCreat       RecordType = 1703

	// Integrity (1800-1807)
	TypeIntegrityData       RecordType = 1800
	TypeIntegrityMetadata   RecordType = 1801
	TypeIntegrityStatus     RecordType = 1802
	TypeIntegrityHash       RecordType = 1803
	TypeIntegrityPcr        RecordType = 1804
	TypeIntegrityRule       RecordType = 1805
	TypeIntegrityEvmXattr   RecordType = 1806
	TypeIntegrityPolicyRule RecordType = 1807

	// Asynchronous kernel record, always single-record
	TypeKernel RecordType = 2000

	// User space crypto records
	TypeCryptoKeyUser RecordType = 2404
)

// Thresholds from the kernel's record numbering scheme. Everything below
// firstEventCode and everything at or above firstAnomalyCode is a
// standalone record that never has satellite records attached.
const (
	firstEventCode   RecordType = 1300
	firstAnomalyCode RecordType = 2100
)

var recordTypeNames = map[RecordType]string{
	TypeGetStatus:   "GET_STATUS",
	TypeSetStatus:   "SET_STATUS",
	TypeList:        "LIST",
	TypeAdd:         "ADD",
	TypeDel:         "DEL",
	TypeUser:        "USER",
	TypeLogin:       "LOGIN",
	TypeWatchInsert: "WATCH_INSERT",
	TypeWatchRemove: "WATCH_REMOVE",
	TypeWatchList:   "WATCH_LIST",
	TypeSignalInfo:  "SIGNAL_INFO",
	TypeAddRule:     "ADD_RULE",
	TypeDelRule:     "DEL_RULE",
	TypeListRules:   "LIST_RULES",
	TypeTrim:        "TRIM",
	TypeMakeEquiv:   "MAKE_EQUIV",
	TypeTtyGet:      "TTY_GET",
	TypeTtySet:      "TTY_SET",
	TypeSetFeature:  "SET_FEATURE",
	TypeGetFeature:  "GET_FEATURE",

	TypeFirstUserMsg: "USER_FIRST_MSG",
	TypeUserAvc:      "USER_AVC",
	TypeUserTty:      "USER_TTY",
	TypeLastUserMsg:  "USER_LAST_MSG",

	TypeDaemonStart:  "DAEMON_START",
	TypeDaemonEnd:    "DAEMON_END",
	TypeDaemonAbort:  "DAEMON_ABORT",
	TypeDaemonConfig: "DAEMON_CONFIG",

	TypeSyscall:       "SYSCALL",
	TypePath:          "PATH",
	TypeIpc:           "IPC",
	TypeSocketcall:    "SOCKETCALL",
	TypeConfigChange:  "CONFIG_CHANGE",
	TypeSockaddr:      "SOCKADDR",
	TypeCwd:           "CWD",
	TypeExecve:        "EXECVE",
	TypeIpcSetPerm:    "IPC_SET_PERM",
	TypeMqOpen:        "MQ_OPEN",
	TypeMqSendRecv:    "MQ_SEND_RECV",
	TypeMqNotify:      "MQ_NOTIFY",
	TypeMqGetSetAttr:  "MQ_GETSETATTR",
	TypeKernelOther:   "KERNEL_OTHER",
	TypeFdPair:        "FD_PAIR",
	TypeObjPid:        "OBJ_PID",
	TypeTty:           "TTY",
	TypeEoe:           "EOE",
	TypeBprmFcaps:     "BPRM_FCAPS",
	TypeCapset:        "CAPSET",
	TypeMmap:          "MMAP",
	TypeNetfilterPkt:  "NETFILTER_PKT",
	TypeNetfilterCfg:  "NETFILTER_CFG",
	TypeSeccomp:       "SECCOMP",
	TypeProctitle:     "PROCTITLE",
	TypeFeatureChange: "FEATURE_CHANGE",
	TypeReplace:       "REPLACE",
	TypeKernModule:    "KERN_MODULE",
	TypeFanotify:      "FANOTIFY",
	TypeTimeInjOffset: "TIME_INJ_OFFSET",
	TypeTimeAdjNtpVal: "TIME_ADJ_NTP_VAL",
	TypeBpf:           "BPF",
	TypeEventListener: "EVENT_LISTENER",

	TypeAvc:             "AVC",
	TypeSelinuxErr:      "SELINUX_ERR",
	TypeAvcPath:         "AVC_PATH",
	TypeMacPolicyLoad:   "MAC_POLICY_LOAD",
	TypeMacStatus:       "MAC_STATUS",
	TypeMacConfigChange: "MAC_CONFIG_CHANGE",
	TypeMacUnlblAllow:   "MAC_UNLBL_ALLOW",
	TypeMacCipsoV4Add:   "MAC_CIPSO_V4_ADD",
	TypeMacCipsoV4Del:   "MAC_CIPSO_V4_DEL",
	TypeMacMapAdd:       "MAC_MAP_ADD",
	TypeMacMapDel:       "MAC_MAP_DEL",
	TypeMacIpsecEvent:   "MAC_IPSEC_EVENT",
	TypeMacUnlblStcAdd:  "MAC_UNLBL_STC_ADD",
	TypeMacUnlblStcDel:  "MAC_UNLBL_STC_DEL",
	TypeMacCalipsoAdd:   "MAC_CALIPSO_ADD",
	TypeMacCalipsoDel:   "MAC_CALIPSO_DEL",
	TypeMacTaskContexts: "MAC_TASK_CONTEXTS",
	TypeMacObjContexts:  "MAC_OBJ_CONTEXTS",

	TypeAnomalyPromiscuous: "ANOM_PROMISCUOUS",
	TypeAnomalyAbend:       "ANOM_ABEND",
	TypeAnomalyLink:        "ANOM_LINK",
	TypeAnomalyCreat:       "ANOM_CREAT",

	TypeIntegrityData:       "INTEGRITY_DATA",
	TypeIntegrityMetadata:   "INTEGRITY_METADATA",
	TypeIntegrityStatus:     "INTEGRITY_STATUS",
	TypeIntegrityHash:       "INTEGRITY_HASH",
	TypeIntegrityPcr:        "INTEGRITY_PCR",
	TypeIntegrityRule:       "INTEGRITY_RULE",
	TypeIntegrityEvmXattr:   "INTEGRITY_EVM_XATTR",
	TypeIntegrityPolicyRule: "INTEGRITY_POLICY_RULE",

	TypeKernel:        "KERNEL",
	TypeCryptoKeyUser: "CRYPTO_KEY_USER",
}

var recordTypeCodes = make(map[string]RecordType, len(recordTypeNames))

func init() {
	for t, name := range recordTypeNames {
		recordTypeCodes[name] = t
	}
}

// RecordTypeFromCode converts a numeric kernel type code to a RecordType.
// The conversion never fails; unnamed codes are carried through as-is.
func RecordTypeFromCode(code uint16) RecordType {
	return RecordType(code)
}

// RecordTypeFromName resolves an audit type symbol such as "SYSCALL" back
// to its RecordType. Symbols of the form "UNKNOWN[n]" resolve to the
// embedded numeric code, so String output always parses back.
func RecordTypeFromName(name string) (RecordType, bool) {
	if t, ok := recordTypeCodes[name]; ok {
		return t, true
	}
	if strings.HasPrefix(name, "UNKNOWN[") && strings.HasSuffix(name, "]") {
		code, err := strconv.ParseUint(name[len("UNKNOWN[") : len(name)-1], 10, 16)
		if err == nil {
			return RecordType(code), true
		}
	}
	return 0, false
}

// Code returns the numeric kernel type code.
func (t RecordType) Code() uint16 {
	return uint16(t)
}

// Known reports whether the code has a named symbol.
func (t RecordType) Known() bool {
	_, ok := recordTypeNames[t]
	return ok
}

// String returns the audit type symbol, or "UNKNOWN[n]" for codes without
// a named constant.
func (t RecordType) String() string {
	if name, ok := recordTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("UNKNOWN[%d]", uint16(t))
}

// MarshalJSON encodes the type as its audit symbol.
func (t RecordType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON accepts either an audit symbol or a bare numeric code.
func (t *RecordType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err == nil {
		rt, ok := RecordTypeFromName(name)
		if !ok {
			return fmt.Errorf("unknown record type symbol %q", name)
		}
		*t = rt
		return nil
	}
	var code uint16
	if err := json.Unmarshal(data, &code); err != nil {
		return fmt.Errorf("record type must be a symbol or code: %w", err)
	}
	*t = RecordType(code)
	return nil
}

// IsEndOfEvent reports whether this is the explicit end-of-event marker
// that terminates a multi-record kernel event.
func (t RecordType) IsEndOfEvent() bool {
	return t == TypeEoe
}

// IsProctitle reports whether this is the process-title record, which is
// always the last record of the event it belongs to.
func (t RecordType) IsProctitle() bool {
	return t == TypeProctitle
}

// IsSingleRecordKernel reports whether this is the asynchronous kernel
// record type that never has satellite records.
func (t RecordType) IsSingleRecordKernel() bool {
	return t == TypeKernel
}

// IsBelowFirstEvent reports whether the code sits below the range where
// multi-record events begin. Only standalone records occur there.
func (t RecordType) IsBelowFirstEvent() bool {
	return t < firstEventCode
}

// IsAnomalyOrAbove reports whether the code sits at or above the first
// anomaly message. Only standalone records occur there.
func (t RecordType) IsAnomalyOrAbove() bool {
	return t >= firstAnomalyCode
}

// IsSingleRecordMAC reports whether the code falls in the MAC and labeled
// networking range whose records arrive one per event.
func (t RecordType) IsSingleRecordMAC() bool {
	return t >= TypeMacUnlblAllow && t <= TypeMacCalipsoDel
}
