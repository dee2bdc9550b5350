package handler

import (
	"bytes"
	"encoding/xml"
	"io"
	"net/http"

	"github.com/dandantas/stocksync/internal/session"
	"github.com/dandantas/stocksync/pkg/middleware"
)

const (
	soapEnvelopeNS = "http://schemas.xmlsoap.org/soap/envelope/"
	qbwcNS         = "http://developer.intuit.com/"
)

// SOAPHandler exposes the session protocol as the SOAP 1.1 service the Web
// Connector calls
type SOAPHandler struct {
	session *session.Handler
}

// NewSOAPHandler creates a new SOAP handler
func NewSOAPHandler(h *session.Handler) *SOAPHandler {
	return &SOAPHandler{session: h}
}

// Inbound envelope. Element names are matched without regard to namespace.
type soapRequest struct {
	XMLName xml.Name `xml:"Envelope"`
	Body    struct {
		Authenticate *struct {
			UserName string `xml:"strUserName"`
			Password string `xml:"strPassword"`
		} `xml:"authenticate"`
		SendRequestXML *struct {
			Ticket      string `xml:"ticket"`
			CompanyFile string `xml:"strCompanyFileName"`
			MajorVers   string `xml:"qbXMLMajorVers"`
			MinorVers   string `xml:"qbXMLMinorVers"`
		} `xml:"sendRequestXML"`
		ReceiveResponseXML *struct {
			Ticket   string `xml:"ticket"`
			Response string `xml:"response"`
			HResult  string `xml:"hresult"`
			Message  string `xml:"message"`
		} `xml:"receiveResponseXML"`
		GetLastError *struct {
			Ticket string `xml:"ticket"`
		} `xml:"getLastError"`
		ConnectionError *struct {
			Ticket  string `xml:"ticket"`
			HResult string `xml:"hresult"`
			Message string `xml:"message"`
		} `xml:"connectionError"`
		CloseConnection *struct {
			Ticket string `xml:"ticket"`
		} `xml:"closeConnection"`
		ServerVersion *struct{} `xml:"serverVersion"`
		ClientVersion *struct {
			Version string `xml:"strVersion"`
		} `xml:"clientVersion"`
	} `xml:"Body"`
}

// Outbound envelope. The prefixed names are written verbatim.
type soapResponse struct {
	XMLName xml.Name `xml:"soap:Envelope"`
	SoapNS  string   `xml:"xmlns:soap,attr"`
	Body    struct {
		Content any
	} `xml:"soap:Body"`
}

type soapFault struct {
	XMLName xml.Name `xml:"soap:Fault"`
	Code    string   `xml:"faultcode"`
	String  string   `xml:"faultstring"`
}

type authenticateResponse struct {
	XMLName xml.Name `xml:"http://developer.intuit.com/ authenticateResponse"`
	Result  []string `xml:"authenticateResult>string"`
}

type stringResult struct {
	XMLName xml.Name
	Result  string `xml:",chardata"`
}

type intResult struct {
	XMLName xml.Name
	Result  int `xml:",chardata"`
}

// operation results are wrapped as <opResponse><opResult>value</opResult></opResponse>
type opResponse struct {
	XMLName xml.Name
	Result  any
}

func stringResponse(op, value string) opResponse {
	return opResponse{
		XMLName: xml.Name{Space: qbwcNS, Local: op + "Response"},
		Result:  stringResult{XMLName: xml.Name{Local: op + "Result"}, Result: value},
	}
}

func intResponse(op string, value int) opResponse {
	return opResponse{
		XMLName: xml.Name{Space: qbwcNS, Local: op + "Response"},
		Result:  intResult{XMLName: xml.Name{Local: op + "Result"}, Result: value},
	}
}

// ServeHTTP handles POST /qbwc
func (h *SOAPHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "stocksync Web Connector endpoint\n")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		h.fault(w, r, "soap:Client", "failed to read request")
		return
	}
	var req soapRequest
	if err := xml.Unmarshal(body, &req); err != nil {
		h.fault(w, r, "soap:Client", "malformed SOAP envelope: "+err.Error())
		return
	}

	ctx := r.Context()
	b := req.Body
	var content any
	switch {
	case b.Authenticate != nil:
		ticket, selector := h.session.Authenticate(ctx, b.Authenticate.UserName, b.Authenticate.Password)
		content = authenticateResponse{Result: []string{ticket, selector}}
	case b.SendRequestXML != nil:
		content = stringResponse("sendRequestXML", h.session.SendRequest(ctx, b.SendRequestXML.Ticket))
	case b.ReceiveResponseXML != nil:
		rr := b.ReceiveResponseXML
		content = intResponse("receiveResponseXML", h.session.ReceiveResponse(ctx, rr.Ticket, rr.Response, rr.HResult, rr.Message))
	case b.GetLastError != nil:
		content = stringResponse("getLastError", h.session.GetLastError(ctx, b.GetLastError.Ticket))
	case b.ConnectionError != nil:
		ce := b.ConnectionError
		content = stringResponse("connectionError", h.session.ConnectionError(ctx, ce.Ticket, ce.HResult, ce.Message))
	case b.CloseConnection != nil:
		content = stringResponse("closeConnection", h.session.Close(ctx, b.CloseConnection.Ticket))
	case b.ServerVersion != nil:
		content = stringResponse("serverVersion", session.ServerVersion)
	case b.ClientVersion != nil:
		content = stringResponse("clientVersion", h.session.ClientVersion(ctx, b.ClientVersion.Version))
	default:
		h.fault(w, r, "soap:Client", "unsupported operation")
		return
	}

	h.write(w, http.StatusOK, content)
}

func (h *SOAPHandler) fault(w http.ResponseWriter, r *http.Request, code, message string) {
	middleware.Logger(r.Context()).Warn("SOAP request rejected", "fault", message)
	h.write(w, http.StatusInternalServerError, soapFault{Code: code, String: message})
}

func (h *SOAPHandler) write(w http.ResponseWriter, status int, content any) {
	var env soapResponse
	env.SoapNS = soapEnvelopeNS
	env.Body.Content = content

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	if err := xml.NewEncoder(&buf).Encode(env); err != nil {
		http.Error(w, "failed to encode SOAP response", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/xml; charset=utf-8")
	w.WriteHeader(status)
	w.Write(buf.Bytes())
}
