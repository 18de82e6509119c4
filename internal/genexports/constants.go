package genexports

// Date layout shared by the daily export formats.
const (
	dateLayout = "2006-01-02"
)

// Daily activity baselines and jitter.
const (
	weekdayStepsMean     = 9000.0
	weekendStepsMean     = 11500.0
	stepsJitter          = 2200.0
	minDailySteps        = 1200.0
	maxDailySteps        = 32000.0
	metersPerStep        = 0.74
	distanceJitterKM     = 0.3
	minDistanceKM        = 0.5
	burnBaseKcal         = 1750.0
	burnPerStepKcal      = 0.045
	burnJitterKcal       = 90.0
	stepsPerActiveMinute = 180.0
	activeMinutesJitter  = 8.0
	maxActiveMinutes     = 300.0
)

// Sleep and recovery baselines. Short sleep raises the next morning's
// resting heart rate and depresses HRV, so generated timelines carry a
// real lagged dependency between sleep and recovery.
const (
	baselineSleepHours   = 7.3
	weekendSleepBonus    = 0.4
	sleepJitterHours     = 0.6
	minSleepHours        = 4.5
	maxSleepHours        = 10.0
	baselineRestingHR    = 52.0
	restingHRPerLostHour = 2.5
	restingHRJitter      = 1.2
	minRestingHR         = 40.0
	maxRestingHR         = 85.0
	baselineHRVms        = 62.0
	hrvPerRestingBeat    = 1.8
	hrvJitter            = 3.0
	minHRVms             = 22.0
	maxHRVms             = 120.0
	baselineStress       = 24.0
	stressPerLostHour    = 9.0
	stressJitter         = 8.0
	minScore             = 1.0
	maxScore             = 99.0
	baselineReadiness    = 85.0
	readinessPerLostHour = 8.0
	readinessJitter      = 4.0
)

// Body and vitals baselines.
const (
	baselineWeightKG   = 71.0
	weightSpreadKG     = 0.8
	weightDriftKG      = 0.15
	poundsPerKilogram  = 2.20462
	spo2Floor          = 0.95
	spo2Range          = 0.04
	baselineRespRate   = 15.0
	respRateJitter     = 1.2
	overnightDipBeats  = 2
	lowestHeartRateMin = 38
)

// Nutrition baselines.
const (
	intakeMeanKcal     = 2350.0
	intakeJitterKcal   = 240.0
	proteinShare       = 0.22
	carbShare          = 0.50
	fatShare           = 0.28
	kcalPerGramProtein = 4.0
	kcalPerGramCarb    = 4.0
	kcalPerGramFat     = 9.0
	waterMeanML        = 2100.0
	waterJitterML      = 350.0
)

// Bedtime window. Bedtime lands the evening before the covered day.
const (
	bedStartHour       = 22
	bedStartBaseMinute = 30
	bedStartJitterMin  = 80
	awakeInBedMinutes  = 25
	exportZoneHours    = 2
)
