package p2p

// WPS config methods (Wi-Fi Simple Configuration, bit positions).
const (
	WPSConfigUSBA            uint16 = 1 << 0
	WPSConfigEthernet        uint16 = 1 << 1
	WPSConfigLabel           uint16 = 1 << 2
	WPSConfigDisplay         uint16 = 1 << 3
	WPSConfigExtNFCToken     uint16 = 1 << 4
	WPSConfigIntNFCToken     uint16 = 1 << 5
	WPSConfigNFCInterface    uint16 = 1 << 6
	WPSConfigPushButton      uint16 = 1 << 7
	WPSConfigKeypad          uint16 = 1 << 8
	WPSConfigVirtualPush     uint16 = 1<<9 | WPSConfigPushButton
	WPSConfigPhysicalPush    uint16 = 1<<10 | WPSConfigPushButton
	WPSConfigVirtualDisplay  uint16 = 1<<13 | WPSConfigDisplay
	WPSConfigPhysicalDisplay uint16 = 1<<14 | WPSConfigDisplay
)

// P2P device capability bitmap.
const (
	DeviceCapabServiceDiscovery      uint8 = 1 << 0
	DeviceCapabClientDiscoverability uint8 = 1 << 1
	DeviceCapabConcurrentOper        uint8 = 1 << 2
	DeviceCapabInfrastructureManaged uint8 = 1 << 3
	DeviceCapabDeviceLimit           uint8 = 1 << 4
	DeviceCapabInvitationProcedure   uint8 = 1 << 5
)

// P2P group capability bitmap.
const (
	GroupCapabGroupOwner       uint8 = 1 << 0
	GroupCapabPersistentGroup  uint8 = 1 << 1
	GroupCapabGroupLimit       uint8 = 1 << 2
	GroupCapabIntraBSSDist     uint8 = 1 << 3
	GroupCapabCrossConn        uint8 = 1 << 4
	GroupCapabPersistentReconn uint8 = 1 << 5
	GroupCapabGroupFormation   uint8 = 1 << 6
)

// WPSDisplay reports bit 3 of a WPS config-methods bitmask.
func WPSDisplay(methods uint16) bool { return methods&WPSConfigDisplay != 0 }

// WPSPushButton reports bit 7 of a WPS config-methods bitmask.
func WPSPushButton(methods uint16) bool { return methods&WPSConfigPushButton != 0 }

// WPSKeypad reports bit 8 of a WPS config-methods bitmask.
func WPSKeypad(methods uint16) bool { return methods&WPSConfigKeypad != 0 }

// ServiceDiscovery reports bit 0 of a device capability bitmask.
func ServiceDiscovery(devCapab uint8) bool { return devCapab&DeviceCapabServiceDiscovery != 0 }

// DeviceLimit reports bit 4 of a device capability bitmask.
func DeviceLimit(devCapab uint8) bool { return devCapab&DeviceCapabDeviceLimit != 0 }

// InvitationProcedure reports bit 5 of a device capability bitmask.
func InvitationProcedure(devCapab uint8) bool {
	return devCapab&DeviceCapabInvitationProcedure != 0
}

// GroupOwner reports bit 0 of a group capability bitmask.
func GroupOwner(groupCapab uint8) bool { return groupCapab&GroupCapabGroupOwner != 0 }

// GroupLimit reports bit 2 of a group capability bitmask.
func GroupLimit(groupCapab uint8) bool { return groupCapab&GroupCapabGroupLimit != 0 }
