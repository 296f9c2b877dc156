package device

// Response bodies served by the device. The checker validates raw documents
// against the contract; these types describe the same shapes for code that builds
// or reads well-formed payloads.

type SensorSummary struct {
	ID        string  `json:"id"`
	Type      string  `json:"type"`
	Name      string  `json:"name"`
	Active    int     `json:"active"`
	LastValue float64 `json:"lastValue"`
}

type SensorList struct {
	MaxNumActive int             `json:"max_num_active"`
	Sensors      []SensorSummary `json:"sensors"`
}

type SensorReadings struct {
	ID       string    `json:"id"`
	Type     string    `json:"type"`
	Name     string    `json:"name"`
	Readings []float64 `json:"readings"`
}

type ReadingsList struct {
	Sensors []SensorReadings `json:"sensors"`
}

type SoftAPConfig struct {
	SSID     string `json:"ssid"`
	Password string `json:"password"`
	IP       string `json:"ip"`
	Gateway  string `json:"gateway"`
	Subnet   string `json:"subnet"`
}

type StaticConfig struct {
	IP      string `json:"ip"`
	Gateway string `json:"gateway"`
	Subnet  string `json:"subnet"`
}

type NetworkConfig struct {
	Enabled    int          `json:"enabled"`
	Assignment string       `json:"assignment"`
	SSID       string       `json:"ssid"`
	Password   string       `json:"password"`
	Static     StaticConfig `json:"static"`
}

// Sensor types reported by the firmware.
const (
	TypeNTC     = "NTC"
	TypeOneWire = "OneWire"
)

// Reading windows and the number of samples the device keeps for each.
var Windows = map[string]int{
	"1h":  360,
	"24h": 1440,
}
