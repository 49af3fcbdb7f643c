package types

// ActionType identifies which PoW-gated flow a solved nonce belongs to.
type ActionType string

const (
	ActionLogin  ActionType = "login"
	ActionUpload ActionType = "upload"
	ActionDNS    ActionType = "dns"
	ActionReport ActionType = "report"
)

// Client-to-server event names.
const (
	EvRequestServerAuthChallenge = "request_server_auth_challenge"
	EvVerifyServerAuthResponse   = "verify_server_auth_response"
	EvRequestPowChallenge        = "request_pow_challenge"
	EvAuthenticate               = "authenticate"
	EvJoinNetwork                = "join_network"
	EvSyncClientFiles            = "sync_client_files"
	EvPublishContent             = "publish_content"
	EvRequestContent             = "request_content"
	EvRegisterDNS                = "register_dns"
	EvResolveDNS                 = "resolve_dns"
	EvSearchContent              = "search_content"
	EvReportContent              = "report_content"
	EvGetNetworkState            = "get_network_state"
)

// Server-to-client event names.
const (
	EvServerAuthChallenge  = "server_auth_challenge"
	EvServerAuthResult     = "server_auth_result"
	EvPowChallenge         = "pow_challenge"
	EvAuthenticationResult = "authentication_result"
	EvContentResponse      = "content_response"
	EvPublishResult        = "publish_result"
	EvDNSResult            = "dns_result"
	EvDNSResolution        = "dns_resolution"
	EvSearchResults        = "search_results"
	EvNetworkState         = "network_state"
	EvReportResult         = "report_result"
)
