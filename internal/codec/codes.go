package codec

// Code is a RADIUS packet type code.
type Code uint8

// MaxCode bounds the per-code arrays kept by the stats layer. Codes above
// this (experimental/reserved space) are not tracked individually.
const MaxCode Code = 52

const (
	AccessRequest      Code = 1
	AccessAccept       Code = 2
	AccessReject       Code = 3
	AccountingRequest  Code = 4
	AccountingResponse Code = 5
	AccessChallenge    Code = 11
	StatusServer       Code = 12
	StatusClient       Code = 13
	DisconnectRequest  Code = 40
	DisconnectACK      Code = 41
	DisconnectNAK      Code = 42
	CoARequest         Code = 43
	CoAACK             Code = 44
	CoANAK             Code = 45
)

var codeNames = map[Code]string{
	AccessRequest:      "Access-Request",
	AccessAccept:       "Access-Accept",
	AccessReject:       "Access-Reject",
	AccountingRequest:  "Accounting-Request",
	AccountingResponse: "Accounting-Response",
	AccessChallenge:    "Access-Challenge",
	StatusServer:       "Status-Server",
	StatusClient:       "Status-Client",
	DisconnectRequest:  "Disconnect-Request",
	DisconnectACK:      "Disconnect-ACK",
	DisconnectNAK:      "Disconnect-NAK",
	CoARequest:         "CoA-Request",
	CoAACK:             "CoA-ACK",
	CoANAK:             "CoA-NAK",
}

var codesByName = func() map[string]Code {
	m := make(map[string]Code, len(codeNames))
	for c, n := range codeNames {
		m[n] = c
	}
	return m
}()

// String returns the well-known name of the code, or "Code-N" for codes
// without an assigned name.
func (c Code) String() string {
	if n, ok := codeNames[c]; ok {
		return n
	}
	return "Code-" + itoa(uint8(c))
}

// CodeByName resolves a well-known code name ("Access-Request") to its
// numeric code.
func CodeByName(name string) (Code, bool) {
	c, ok := codesByName[name]
	return c, ok
}

// IsRequest reports whether the code identifies a client-originated
// request that expects a reply.
func (c Code) IsRequest() bool {
	switch c {
	case AccessRequest, AccountingRequest, StatusServer, DisconnectRequest, CoARequest:
		return true
	}
	return false
}

// IsResponse reports whether the code identifies a server reply.
func (c Code) IsResponse() bool {
	switch c {
	case AccessAccept, AccessReject, AccessChallenge, AccountingResponse,
		DisconnectACK, DisconnectNAK, CoAACK, CoANAK:
		return true
	}
	return false
}

func itoa(v uint8) string {
	if v == 0 {
		return "0"
	}
	var buf [3]byte
	i := len(buf)
	for v > 0 {
		i--
		buf[i] = '0' + v%10
		v /= 10
	}
	return string(buf[i:])
}
