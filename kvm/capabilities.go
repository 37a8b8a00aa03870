package kvm

import (
	"fmt"
)

// Capability names one KVM_CAP_* extension, probed with KVM_CHECK_EXTENSION.
//
//go:generate stringer -type=Capability
type Capability uint

const (
	CapIRQChip      Capability = 0
	CapHLT          Capability = 1
	CapUserMemory   Capability = 3
	CapSetTSSAddr   Capability = 4
	CapEXTCPUID     Capability = 7
	CapClockSource  Capability = 8
	CapNRVCPUs      Capability = 9
	CapNRMemSlots   Capability = 10
	CapPIT          Capability = 11
	CapMPState      Capability = 14
	CapCoalescedMMIO Capability = 15
	CapIOMMU        Capability = 18
	CapUserNMI      Capability = 22
	CapSetGuestDebug Capability = 23
	CapReinjectControl Capability = 24
	CapIRQRouting   Capability = 25
	CapMCE          Capability = 31
	CapIRQFD        Capability = 32
	CapPIT2         Capability = 33
	CapSetBootCPUID Capability = 34
	CapPITState2    Capability = 35
	CapIOEventFD    Capability = 36
	CapAdjustClock  Capability = 39
	CapVCPUEvents   Capability = 41
	CapINTRShadow   Capability = 49
	CapDebugRegs    Capability = 50
	CapEnableCap    Capability = 54
	CapXSave        Capability = 55
	CapXCRS         Capability = 56
	CapTSCControl   Capability = 60
	CapKVMClockCtrl Capability = 76
	CapSignalMSI    Capability = 77
	CapDeviceCtrl   Capability = 89
	CapEXTEmulCPUID Capability = 95
	CapVMAttributes Capability = 101
	CapX86SMM       Capability = 117
	CapONEREG       Capability = 70
	CapX86DisableExits Capability = 134
	CapGETMSRFeatures  Capability = 135
	CapNestedState     Capability = 157
	CapCoalescedPIO    Capability = 159
	CapManualDirtyLogProtect2 Capability = 168
	CapPMUEventFilter  Capability = 173
	CapX86UserSpaceMSR Capability = 188
	CapX86MSRFilter    Capability = 189
	CapX86BusLockExit  Capability = 193
	CapSREGS2          Capability = 196
	CapBinaryStatsFD   Capability = 203
	CapXSave2          Capability = 208
	CapSysAttributes   Capability = 209
	CapVMTSCControl    Capability = 214
	CapX86TripleFaultEvent Capability = 218
	CapX86NotifyVMExit Capability = 226
)

//nolint:gochecknoglobals
var capabilityNames = map[Capability]string{
	CapIRQChip:                "CapIRQChip",
	CapHLT:                    "CapHLT",
	CapUserMemory:             "CapUserMemory",
	CapSetTSSAddr:             "CapSetTSSAddr",
	CapEXTCPUID:               "CapEXTCPUID",
	CapClockSource:            "CapClockSource",
	CapNRVCPUs:                "CapNRVCPUs",
	CapNRMemSlots:             "CapNRMemSlots",
	CapPIT:                    "CapPIT",
	CapMPState:                "CapMPState",
	CapCoalescedMMIO:          "CapCoalescedMMIO",
	CapIOMMU:                  "CapIOMMU",
	CapUserNMI:                "CapUserNMI",
	CapSetGuestDebug:          "CapSetGuestDebug",
	CapReinjectControl:        "CapReinjectControl",
	CapIRQRouting:             "CapIRQRouting",
	CapMCE:                    "CapMCE",
	CapIRQFD:                  "CapIRQFD",
	CapPIT2:                   "CapPIT2",
	CapSetBootCPUID:           "CapSetBootCPUID",
	CapPITState2:              "CapPITState2",
	CapIOEventFD:              "CapIOEventFD",
	CapAdjustClock:            "CapAdjustClock",
	CapVCPUEvents:             "CapVCPUEvents",
	CapINTRShadow:             "CapINTRShadow",
	CapDebugRegs:              "CapDebugRegs",
	CapEnableCap:              "CapEnableCap",
	CapXSave:                  "CapXSave",
	CapXCRS:                   "CapXCRS",
	CapTSCControl:             "CapTSCControl",
	CapKVMClockCtrl:           "CapKVMClockCtrl",
	CapSignalMSI:              "CapSignalMSI",
	CapDeviceCtrl:             "CapDeviceCtrl",
	CapEXTEmulCPUID:           "CapEXTEmulCPUID",
	CapVMAttributes:           "CapVMAttributes",
	CapX86SMM:                 "CapX86SMM",
	CapONEREG:                 "CapONEREG",
	CapX86DisableExits:        "CapX86DisableExits",
	CapGETMSRFeatures:         "CapGETMSRFeatures",
	CapNestedState:            "CapNestedState",
	CapCoalescedPIO:           "CapCoalescedPIO",
	CapManualDirtyLogProtect2: "CapManualDirtyLogProtect2",
	CapPMUEventFilter:         "CapPMUEventFilter",
	CapX86UserSpaceMSR:        "CapX86UserSpaceMSR",
	CapX86MSRFilter:           "CapX86MSRFilter",
	CapX86BusLockExit:         "CapX86BusLockExit",
	CapSREGS2:                 "CapSREGS2",
	CapBinaryStatsFD:          "CapBinaryStatsFD",
	CapXSave2:                 "CapXSave2",
	CapSysAttributes:          "CapSysAttributes",
	CapVMTSCControl:           "CapVMTSCControl",
	CapX86TripleFaultEvent:    "CapX86TripleFaultEvent",
	CapX86NotifyVMExit:        "CapX86NotifyVMExit",
}

// String implements fmt.Stringer by hand, in the shape `stringer` would
// generate, since the generated file itself was not part of the retrieved
// tree.
func (c Capability) String() string {
	if name, ok := capabilityNames[c]; ok {
		return name
	}

	return fmt.Sprintf("Capability(%d)", uint(c))
}

// CheckExtension asks KVM (or a specific VM fd) whether a capability is
// supported; a positive return usually carries a capability-specific
// magnitude (e.g. CapNRMemSlots returns the slot count), zero means
// unsupported.
func CheckExtension(fd uintptr, cap Capability) (int, error) {
	ret, err := Ioctl(fd, IIO(kvmCheckExtension), uintptr(cap))

	return int(ret), err
}
