package mcp2515

type polledLine struct {
	conn Conn
}

// PolledInterrupt emulates the INT pin for links that do not wire it. The pin
// is low whenever a flag enabled in CANINTE is set in CANINTF.
func PolledInterrupt(conn Conn) InterruptLine {
	return &polledLine{conn: conn}
}

func (p *polledLine) Get() (bool, error) {
	// CANINTE and CANINTF are adjacent
	b, err := readRegisters(p.conn, CANINTE, 2)
	if err != nil {
		return true, err
	}
	return b[0]&b[1] == 0, nil
}
