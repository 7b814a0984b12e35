package escl

import (
	"log/slog"
	"net/http"

	mfpescl "github.com/OpenPrinting/go-mfp/proto/escl"
	"github.com/OpenPrinting/go-mfp/transport"
	"github.com/OpenPrinting/go-mfp/util/optional"
	"github.com/grandcat/zeroconf"
)

// ServiceType is the DNS-SD service advertised for eSCL.
const ServiceType = "_uscan._tcp"

// NewServer returns an http.Handler speaking eSCL for the adapter under
// /eSCL/, matching the rs TXT record.
func NewServer(a *Adapter) http.Handler {
	srv := mfpescl.NewAbstractServer(mfpescl.AbstractServerOptions{
		Scanner:  a,
		BasePath: "",
		Hooks: mfpescl.ServerHooks{
			OnScannerStatusResponse: func(_ *transport.ServerQuery, status *mfpescl.ScannerStatus) *mfpescl.ScannerStatus {
				loaded, err := a.CheckADFStatus()
				if err != nil {
					slog.Debug("feeder status check failed", "err", err)
					return nil
				}
				if loaded {
					status.ADFState = optional.New(mfpescl.ScannerAdfLoaded)
				} else {
					status.ADFState = optional.New(mfpescl.ScannerAdfEmpty)
				}
				return status
			},
		},
	})

	mux := http.NewServeMux()
	mux.Handle("/eSCL/", http.StripPrefix("/eSCL", srv))
	return mux
}

// TXTRecords returns the DNS-SD TXT records describing the adapter.
func (a *Adapter) TXTRecords() []string {
	return []string{
		"txtvers=1",
		"ty=" + a.opts.Name,
		"pdl=application/pdf,image/jpeg",
		"cs=color",
		"is=adf",
		"duplex=F",
		"rs=eSCL",
	}
}

// Advertise registers the eSCL service over mDNS. Call Shutdown on the
// returned server to withdraw it.
func Advertise(a *Adapter, port int) (*zeroconf.Server, error) {
	srv, err := zeroconf.Register(a.opts.Name, ServiceType, "local.", port, a.TXTRecords(), nil)
	if err != nil {
		return nil, err
	}
	slog.Info("mDNS registered", "name", a.opts.Name, "service", ServiceType, "port", port)
	return srv, nil
}
