package config

// -----------------------------------------------------------------------------
// Embedded configuration
//
// Key: board name (same value placed in ctx under CtxDeviceKey)
// Val: raw JSON bytes for that board
// -----------------------------------------------------------------------------

// Olimexino-STM32 with both LED jumpers cut and a W25Q128 on SPI2.
const cfgOlimexino = `{
  "name": "olimexino",
  "core_clock_mhz": 72,
  "spi": {
    "instance": "spi2",
    "variant": "stm32f10x",
    "pclk_mhz": 36,
    "timeout_ms": 50,
    "pins": {"mosi": "PB15", "miso": "PB14", "sck": "PB13", "nss": "PB12"},
    "device": "w25q128"
  },
  "sensors": ["acc", "baro", "gyro", "mag"],
  "sensors_set": ["acc", "baro", "mag"],
  "heartbeat": {"interval": 5}
}`

// Same board with the LED jumpers left intact.
const cfgOlimexinoLEDs = `{
  "name": "olimexino_leds",
  "core_clock_mhz": 72,
  "spi": {
    "instance": "spi2",
    "variant": "stm32f10x",
    "pclk_mhz": 36,
    "timeout_ms": 50,
    "pins": {"mosi": "PB15", "miso": "PB14", "sck": "PB13", "nss": "PB12"},
    "device": "w25q128"
  },
  "options": ["uncut_led1_e_jumper", "uncut_led2_e_jumper"],
  "sensors": ["acc", "baro", "gyro", "mag"],
  "sensors_set": ["acc", "baro", "mag"],
  "heartbeat": {"interval": 5}
}`

// F3 bench board: half-word data register, nothing fitted on the bus.
const cfgF3Bench = `{
  "name": "f3bench",
  "core_clock_mhz": 72,
  "spi": {
    "instance": "spi2",
    "variant": "stm32f30x",
    "pclk_mhz": 36,
    "max_sck_khz": 9000,
    "mode": 3,
    "timeout_ms": 50,
    "pins": {"mosi": "PB15", "miso": "PB14", "sck": "PB13", "nss": "PB12"},
    "device": "none"
  },
  "sensors": ["gyro", "acc"],
  "heartbeat": {"interval": 10}
}`

var embeddedConfigs = map[string][]byte{
	"olimexino":      []byte(cfgOlimexino),
	"olimexino_leds": []byte(cfgOlimexinoLEDs),
	"f3bench":        []byte(cfgF3Bench),
}
