package s3

import (
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	awsconfig "github.com/scttfrdmn/cargoship/pkg/aws/config"
)

// Storage classes accepted in the storage class config key.
const (
	TierStandard    = "STANDARD"
	TierStandardIA  = "STANDARD_IA"
	TierOneZoneIA   = "ONEZONE_IA"
	TierGlacierIR   = "GLACIER_IR"
	TierGlacier     = "GLACIER"
	TierDeepArchive = "DEEP_ARCHIVE"
	TierIntelligent = "INTELLIGENT_TIERING"
)

var storageClasses = map[string]s3types.StorageClass{
	TierStandard:    s3types.StorageClassStandard,
	TierStandardIA:  s3types.StorageClassStandardIa,
	TierOneZoneIA:   s3types.StorageClassOnezoneIa,
	TierGlacierIR:   s3types.StorageClassGlacierIr,
	TierGlacier:     s3types.StorageClassGlacier,
	TierDeepArchive: s3types.StorageClassDeepArchive,
	TierIntelligent: s3types.StorageClassIntelligentTiering,
}

// ConvertTierToStorageClass returns the SDK storage class for tier. An empty
// tier leaves the bucket default in place.
func ConvertTierToStorageClass(tier string) s3types.StorageClass {
	return storageClasses[tier]
}

// ConvertTierToCargoShipStorageClass converts tier to the CargoShip storage class.
func ConvertTierToCargoShipStorageClass(tier string) awsconfig.StorageClass {
	switch tier {
	case TierStandardIA:
		return awsconfig.StorageClassStandardIA
	case TierOneZoneIA:
		return awsconfig.StorageClassOneZoneIA
	case TierGlacierIR, TierGlacier:
		return awsconfig.StorageClassGlacier
	case TierDeepArchive:
		return awsconfig.StorageClassDeepArchive
	case TierIntelligent:
		return awsconfig.StorageClassIntelligentTiering
	default:
		return awsconfig.StorageClassStandard
	}
}
