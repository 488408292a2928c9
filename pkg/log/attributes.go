// Standard attribute keys. Keys follow a hierarchical naming convention
// (e.g. "model.name", "data.samples") so that logs from training, serving and
// the worker can be filtered the same way.

package log

// Model and Operation Context
const (
	// ModelNameKey identifies the model, e.g. "random_forest".
	ModelNameKey = "model.name"

	// OperationKey specifies the operation being performed.
	// Standard values: "fit", "predict", "transform", "fit_transform", "score"
	OperationKey = "ml.operation"

	// ComponentKey identifies which component is logging.
	ComponentKey = "ml.component"

	// PhaseKey indicates the phase of model lifecycle.
	PhaseKey = "ml.phase"

	// RunIDKey identifies a training run.
	RunIDKey = "run.id"
)

// Data Shape and Characteristics
const (
	// SamplesKey indicates the number of samples (rows) in the dataset.
	SamplesKey = "data.samples"

	// FeaturesKey indicates the number of features (columns) in the dataset.
	FeaturesKey = "data.features"

	// PathKey is a file or directory the operation reads or writes.
	PathKey = "data.path"

	// DuplicatesKey counts rows dropped as duplicates during preprocessing.
	DuplicatesKey = "data.duplicates"
)

// Performance Metrics
const (
	// DurationMsKey records the execution time of an operation in milliseconds.
	DurationMsKey = "perf.duration_ms"

	// AccuracyKey records held-out accuracy.
	AccuracyKey = "metrics.accuracy"

	// LossKey records a loss value during training or evaluation.
	LossKey = "metrics.loss"

	// IterationKey records the current iteration number.
	IterationKey = "training.iteration"
)

// Prediction and Transport Context
const (
	// PredsKey indicates the number of predictions made.
	PredsKey = "preds.count"

	// ConfidenceKey records prediction confidence.
	ConfidenceKey = "preds.confidence"

	// LabelKey records the predicted label.
	LabelKey = "preds.label"

	// RequestIDKey carries the HTTP request id.
	RequestIDKey = "http.request_id"

	// TopicKey carries a Kafka topic name.
	TopicKey = "kafka.topic"
)

// Error Context
const (
	// ErrorCodeKey provides a structured error code for programmatic handling.
	ErrorCodeKey = "error.code"

	// StacktraceKey contains stack trace information for debugging.
	StacktraceKey = "error.stacktrace"
)

// Standard attribute values.
const (
	OperationFit          = "fit"
	OperationPredict      = "predict"
	OperationTransform    = "transform"
	OperationFitTransform = "fit_transform"
	OperationScore        = "score"

	PhasePreprocessing = "preprocessing"
	PhaseTraining      = "training"
	PhaseValidation    = "validation"
	PhaseInference     = "inference"

	ErrorNotFitted    = "NOT_FITTED"
	ErrorEmptyData    = "EMPTY_DATA"
	ErrorInvalidInput = "INVALID_INPUT"
	ErrorConvergence  = "CONVERGENCE_FAILURE"
)
