package web

import (
	"encoding/json"
	"net/http"

	"github.com/Bronek/clio/pkg/rpc"
)

// plain-text bodies sent to one-shot clients for request-shape errors,
// matching what the upstream node answers
var plainTextErrors = map[rpc.ErrorCode]string{
	rpc.CodeCommandIsMissing:  "Null method",
	rpc.CodeCommandIsEmpty:    "method is empty",
	rpc.CodeCommandNotString:  "method is not string",
	rpc.CodeParamsUnparseable: "params unparseable",
}

const jsonParseErrorText = "Unable to parse JSON from the request"

// errorHelper renders failures for one connection. request is nil when
// the failure happened before the request could be parsed.
type errorHelper struct {
	conn    Connection
	request map[string]any
}

func newErrorHelper(conn Connection, request map[string]any) errorHelper {
	return errorHelper{conn: conn, request: request}
}

// sendError reports a failure to build the request context.
func (h errorHelper) sendError(status rpc.Status) {
	if h.conn.Upgraded() {
		h.sendJSON(h.composeError(status), http.StatusOK)
		return
	}

	if status.Code.IsGatewaySpecific() {
		if text, ok := plainTextErrors[status.Code]; ok {
			h.conn.Send([]byte(text), http.StatusBadRequest)
			return
		}
		if status.Code == rpc.CodeInvalidAPIVersion {
			h.conn.Send([]byte(status.ErrorMessage()), http.StatusBadRequest)
			return
		}
	}
	h.sendJSON(h.composeError(status), http.StatusBadRequest)
}

func (h errorHelper) sendInternalError() {
	h.sendJSON(h.composeError(rpc.NewStatus(rpc.CodeInternal)), http.StatusInternalServerError)
}

func (h errorHelper) sendNotReadyError() {
	h.sendJSON(h.composeError(rpc.NewStatus(rpc.CodeNotReady)), http.StatusOK)
}

func (h errorHelper) sendTooBusyError() {
	status := http.StatusServiceUnavailable
	if h.conn.Upgraded() {
		status = http.StatusOK
	}
	h.sendJSON(rpc.MakeError(rpc.NewStatus(rpc.CodeTooBusy)), status)
}

func (h errorHelper) sendSlowDownError() {
	if h.conn.Upgraded() {
		h.sendJSON(h.composeError(rpc.NewStatus(rpc.CodeSlowDown)), http.StatusOK)
		return
	}
	h.sendJSON(rpc.MakeError(rpc.NewStatus(rpc.CodeSlowDown)), http.StatusServiceUnavailable)
}

func (h errorHelper) sendJSONParsingError() {
	if h.conn.Upgraded() {
		h.sendJSON(rpc.MakeError(rpc.NewStatus(rpc.CodeBadSyntax)), http.StatusOK)
		return
	}
	h.conn.Send([]byte(jsonParseErrorText), http.StatusBadRequest)
}

// composeError builds the error body. The request id and the request
// itself are echoed back; websocket errors also echo api_version and stay
// at the top level, one-shot errors are nested under "result".
func (h errorHelper) composeError(status rpc.Status) map[string]any {
	e := rpc.MakeError(status)
	if h.request != nil {
		if id, ok := h.request["id"]; ok && id != nil {
			e["id"] = id
		}
		if h.conn.Upgraded() {
			if v, ok := h.request["api_version"]; ok && v != nil {
				e["api_version"] = v
			}
		}
		e["request"] = h.request
	}

	if h.conn.Upgraded() {
		return e
	}
	return map[string]any{"result": e}
}

func (h errorHelper) sendJSON(body map[string]any, status int) {
	msg, err := json.Marshal(body)
	if err != nil {
		h.conn.Send([]byte(`{"error":"internal","error_code":73,"error_message":"Internal error.","status":"error","type":"response"}`), http.StatusInternalServerError)
		return
	}
	h.conn.Send(msg, status)
}
