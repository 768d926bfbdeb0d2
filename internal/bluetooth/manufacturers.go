package bluetooth

// LookupManufacturer returns a human-readable name for a Bluetooth SIG company ID.
// See: https://www.bluetooth.com/specifications/assigned-numbers/
func LookupManufacturer(companyID uint16) string {
	if name, ok := companyNames[companyID]; ok {
		return name
	}
	return ""
}

// Boards and phones that show up around the arena. 0xFFFF is what every bot
// advertises with.
var companyNames = map[uint16]string{
	CompanyID: "BristleBot",
	0x004C:    "Apple",
	0x0006:    "Microsoft",
	0x00E0:    "Google",
	0x0075:    "Samsung",
	0x0059:    "Nordic",
	0x015D:    "Espressif",
	0x000F:    "Broadcom",
	0x000D:    "Texas Inst.",
	0x0822:    "Tuya/Govee",
	0x0499:    "Ruuvi",
}
