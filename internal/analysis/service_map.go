package analysis

import "strconv"

var commonPorts = map[int]string{
	80:    "HTTP",
	81:    "HTTP",
	443:   "HTTPS",
	591:   "HTTP-Alt",
	3000:  "HTTP-Dev",
	5000:  "HTTP-Dev",
	7001:  "WebLogic",
	8000:  "HTTP-Alt",
	8008:  "HTTP-Alt",
	8080:  "HTTP-Alt",
	8081:  "HTTP-Alt",
	8443:  "HTTPS-Alt",
	8888:  "HTTP-Alt",
	9090:  "HTTP-Alt",
	9443:  "HTTPS-Alt",
	18080: "HTTP-Alt",
}

// GetServiceName returns the common name for a port, or the port number as a string.
func GetServiceName(port int) string {
	if name, ok := commonPorts[port]; ok {
		return name
	}
	return strconv.Itoa(port)
}
