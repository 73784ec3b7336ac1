package spidev

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// gpioRoot is the sysfs GPIO class directory.
var gpioRoot = "/sys/class/gpio"

// GPIO is an input pin read through sysfs.
type GPIO struct {
	num   int
	value *os.File
}

// OpenGPIO exports pin num if needed and configures it as input.
func OpenGPIO(num int) (*GPIO, error) {
	dir := filepath.Join(gpioRoot, "gpio"+strconv.Itoa(num))
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.WriteFile(filepath.Join(gpioRoot, "export"), []byte(strconv.Itoa(num)), 0o200); err != nil {
			return nil, fmt.Errorf("export gpio%d: %w", num, err)
		}
		// udev needs a moment to hand the new attributes to the gpio group
		for i := 0; i < 20; i++ {
			if _, err := os.Stat(filepath.Join(dir, "value")); err == nil {
				break
			}
			time.Sleep(5 * time.Millisecond)
		}
	}
	if err := os.WriteFile(filepath.Join(dir, "direction"), []byte("in"), 0o644); err != nil {
		return nil, fmt.Errorf("gpio%d direction: %w", num, err)
	}
	f, err := os.Open(filepath.Join(dir, "value"))
	if err != nil {
		return nil, fmt.Errorf("gpio%d value: %w", num, err)
	}
	return &GPIO{num: num, value: f}, nil
}

// Get returns the pin level.
func (g *GPIO) Get() (bool, error) {
	buf := make([]byte, 1)
	if _, err := g.value.ReadAt(buf, 0); err != nil {
		return false, fmt.Errorf("gpio%d: %w", g.num, err)
	}
	switch buf[0] {
	case '0':
		return false, nil
	case '1':
		return true, nil
	}
	return false, fmt.Errorf("gpio%d: unexpected value %q", g.num, buf[0])
}

func (g *GPIO) Close() error {
	return g.value.Close()
}

// ParsePin accepts "17" or "GPIO17".
func ParsePin(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimPrefix(strings.ToUpper(s), "GPIO"))
	if err != nil || n < 0 {
		return 0, fmt.Errorf("invalid gpio %q", s)
	}
	return n, nil
}
