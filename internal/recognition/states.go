package recognition

// EnrollState is a step of the linear enrollment flow.
type EnrollState string

const (
	EnrollReceivedVideo       EnrollState = "received_video"
	EnrollReceivedPhotos      EnrollState = "received_photos"
	EnrollFramesExtracted     EnrollState = "frames_extracted"
	EnrollEmbeddingsExtracted EnrollState = "embeddings_extracted"
	EnrollValidated           EnrollState = "validated"
	EnrollStored              EnrollState = "stored"
	EnrollRejected            EnrollState = "rejected"
)

// RecognizeState is a step of the linear recognition flow.
type RecognizeState string

const (
	RecognizeReceivedPhoto      RecognizeState = "received_photo"
	RecognizeEmbeddingExtracted RecognizeState = "embedding_extracted"
	RecognizeNoFace             RecognizeState = "no_face"
	RecognizeSearched           RecognizeState = "searched"
	RecognizeAggregated         RecognizeState = "aggregated"
	RecognizeReported           RecognizeState = "reported"
)
