package core

// Wire event names pushed to clients over the signaling socket.
const (
	EventRoomState         = "room-state"
	EventPeerJoined        = "peer-joined"
	EventPeerLeft          = "peer-left"
	EventOffer             = "offer"
	EventAnswer            = "answer"
	EventICECandidate      = "ice-candidate"
	EventMediaUpdate       = "media-update"
	EventTranscriptUpdate  = "transcript-update"
	EventTranscriptInterim = "transcript-update-interim"
	EventTranscribeStarted = "transcription-started"
	EventTranscribeStopped = "transcription-stopped"
	EventSessionFinalized  = "session-finalized"
	EventFinalizeFailed    = "finalize-failed"
	EventError             = "error"
	EventPong              = "pong"
)

// Commands accepted from clients.
const (
	CmdJoin        = "join"
	CmdOffer       = "webrtc-offer"
	CmdAnswer      = "webrtc-answer"
	CmdICE         = "webrtc-ice"
	CmdMediaUpdate = "media-update"
	CmdStartStt    = "start-transcription"
	CmdAudioChunk  = "audio-chunk"
	CmdStopStt     = "stop-transcription"
	CmdRetrySave   = "retry-finalize"
	CmdPing        = "ping"
)
