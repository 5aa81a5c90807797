// Package cause maps Asterisk hangup cause codes (Q.850 numbering) to the
// reason strings reported to consumers.
package cause

import "sort"

// Unspecified is the reason given for codes missing from the table.
const Unspecified = "unspecified"

// Info describes one hangup cause.
type Info struct {
	Code        int
	Reason      string
	Description string
}

var table = map[int]Info{
	1:   {1, "unallocated_number", "The number is not assigned"},
	2:   {2, "no_route_transit_net", "No route to the specified transit network"},
	3:   {3, "no_route_destination", "No route to the destination"},
	5:   {5, "misdialled_trunk_prefix", "Misdialled trunk prefix"},
	6:   {6, "channel_unacceptable", "The channel is unacceptable"},
	7:   {7, "call_awarded_delivered", "Call awarded and delivered in an established channel"},
	8:   {8, "pre_empted", "The call was pre-empted"},
	14:  {14, "number_ported_not_here", "The number was ported elsewhere"},
	16:  {16, "normal_clearing", "The call was hung up normally by one of the parties"},
	17:  {17, "user_busy", "The destination was busy"},
	18:  {18, "no_user_response", "The destination did not respond"},
	19:  {19, "no_answer", "The destination did not answer within the timeout"},
	20:  {20, "subscriber_absent", "The subscriber is absent"},
	21:  {21, "call_rejected", "The call was rejected by the destination"},
	22:  {22, "number_changed", "The number has changed"},
	23:  {23, "redirected_to_new_destination", "The call was redirected to a new destination"},
	26:  {26, "answered_elsewhere", "The call was answered by another destination"},
	27:  {27, "destination_out_of_order", "The destination is out of order"},
	28:  {28, "invalid_number_format", "The number format is invalid"},
	29:  {29, "facility_rejected", "The requested facility was rejected"},
	30:  {30, "response_to_status_enquiry", "Response to a status enquiry"},
	31:  {31, "normal_unspecified", "Normal call clearing, unspecified cause"},
	34:  {34, "normal_circuit_congestion", "All circuits are busy or no circuit is available"},
	38:  {38, "network_out_of_order", "The network is out of order"},
	41:  {41, "normal_temporary_failure", "A temporary failure occurred"},
	42:  {42, "switch_congestion", "The switching equipment is congested"},
	43:  {43, "access_info_discarded", "Access information was discarded"},
	44:  {44, "requested_chan_unavail", "The requested channel is not available"},
	50:  {50, "facility_not_subscribed", "The requested facility is not subscribed"},
	52:  {52, "outgoing_call_barred", "Outgoing calls are barred"},
	54:  {54, "incoming_call_barred", "Incoming calls are barred"},
	57:  {57, "bearercapability_notauth", "Bearer capability not authorized"},
	58:  {58, "bearercapability_notavail", "Bearer capability not presently available"},
	65:  {65, "bearercapability_notimpl", "Bearer capability not implemented"},
	66:  {66, "chan_not_implemented", "Channel type not implemented"},
	69:  {69, "facility_not_implemented", "Requested facility not implemented"},
	81:  {81, "invalid_call_reference", "Invalid call reference value"},
	88:  {88, "incompatible_destination", "Incompatible destination"},
	95:  {95, "invalid_msg_unspecified", "Invalid message, unspecified"},
	96:  {96, "mandatory_ie_missing", "A mandatory information element is missing"},
	97:  {97, "message_type_nonexist", "Message type non-existent or not implemented"},
	98:  {98, "wrong_message", "Message not compatible with the call state"},
	99:  {99, "ie_nonexist", "Information element non-existent or not implemented"},
	100: {100, "invalid_ie_contents", "Invalid information element contents"},
	101: {101, "wrong_call_state", "Message not compatible with the call state"},
	102: {102, "recovery_on_timer_expire", "Recovery on timer expiry"},
	111: {111, "protocol_error", "Protocol error, unspecified"},
	127: {127, "interworking", "An interworking error occurred"},
}

// Reason returns the reason for code, or Unspecified for unknown codes.
func Reason(code int) string {
	if info, ok := table[code]; ok {
		return info.Reason
	}
	return Unspecified
}

// Lookup returns the full entry for code.
func Lookup(code int) (Info, bool) {
	info, ok := table[code]
	return info, ok
}

// Describe returns a human readable description for code.
func Describe(code int) string {
	if info, ok := table[code]; ok {
		return info.Description
	}
	return "Unknown or no cause provided"
}

// All returns every known cause ordered by code.
func All() []Info {
	out := make([]Info, 0, len(table))
	for _, info := range table {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}
