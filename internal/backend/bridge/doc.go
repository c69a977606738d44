// Package bridge drives the finite-element engine through its scripting
// kernel. The kernel runs as a child process executing an adapter that belongs
// to the engine installation; host and kernel exchange length-prefixed JSON
// frames over the child's stdin and stdout, and every backend.Engine call
// becomes one request/result pair. The command that starts the adapter has no
// default (IMPACT_ENGINE_CMD).
//
// # Adapter contract
//
// Every frame is a 4-byte big-endian payload length followed by that many
// bytes of JSON, at most MaxMessageSize. The host sends Request frames
// ({"id","op","args"}). The adapter answers each with a Message of type
// "result" carrying the same id and either "result" or
// "error": {"code","message"}. It may interleave {"type":"log","line":...}
// frames at any time. Requests may arrive while an earlier one is still
// running; kill_job in particular must be answered while wait_job blocks.
// stdout carries frames only; diagnostics go to stderr.
//
// Operations and their args (result is empty unless noted):
//
//	ping                     {}
//	shutdown                 {}                       answer, then exit
//	open_model               {"path","model"}         copy the model from its container
//	delete_mesh              {"model","part"}
//	seed_part                {"model","part","seed":{"size","deviation_factor","min_size_factor"}}
//	generate_mesh            {"model","part"}         result {"nodes","elements"}
//	regenerate_assembly      {"model"}
//	set_step_timing          {"model","step","timing":{"period","max_increment"}}
//	set_tangential_behavior  {"model","property","behavior"}  penalty, isotropic, slip fraction
//	set_velocity_field       {"model","field","velocity":{"velocity1","velocity2","velocity3","omega"}}
//	set_feature_depth        {"model","part","feature","depth"}
//	regenerate_part          {"model","part"}
//	submit_job               backend.JobSpec          explicit single precision, memory percent,
//	                                                  domain parallelization, user subroutine
//	wait_job                 {"job"}                  result {"state","message"}
//	kill_job                 {"job"}
//	open_output              {"path"}                 result {"handle"}
//	output_steps             {"handle"}               result ["step", ...] in order
//	output_frame_count       {"handle","step"}        result n
//	output_field_values      {"handle"} + FieldQuery  result [{"node","data":[...]}]
//	close_output             {"handle"}
//
// Missing models, parts, jobs and outputs are reported with code "not_found";
// a missing node set or field with "node_set_not_found" or "field_not_found".
// Unknown ops get "unknown_op".
//
// Server is the kernel side of the same protocol, answering from an in-process
// engine. cmd/impactsweep-simkernel serves it on stdio and is the reference
// adapter.
package bridge
